package formula

import (
	"encoding/json"
	"fmt"
	"sort"

	"sheetcore/internal/query"
)

// Invalid — результат неуспешной проверки типов. Несёт текст ошибки
// и распространяется на все узлы-предки.
type Invalid struct {
	Error string `json:"error"`
}

func (Invalid) Tag() Tag                    { return TagInvalid }
func (Invalid) Nullable() bool              { return true }
func (t Invalid) WithNullable(bool) Type    { return t }
func (t Invalid) Equal(o Type) bool         { return sameType(t, o) }
func (t Invalid) String() string            { return "invalid(" + t.Error + ")" }
func (Invalid) ColumnType() string          { return "text" }
func (Invalid) ComparableTypes() []Tag      { return nil }
func (Invalid) LimitComparableTypes() []Tag { return nil }

func (Invalid) CastToText(query.Fragment) query.Fragment           { return query.Const{SQLType: "text"} }
func (Invalid) WrapAtFieldLevel(e query.Fragment) query.Fragment   { return e }
func (Invalid) UnwrapAtFieldLevel(e query.Fragment) query.Fragment { return e }
func (Invalid) LookupItem(col query.Fragment) query.Fragment       { return col }

// decoders — статическая таблица тег -> декодер конфигурации, собирается один раз при старте.
var decoders map[Tag]func(raw []byte) (Type, error)

func init() {
	decoders = map[Tag]func(raw []byte) (Type, error){
		TagText:           decodeAs[Text],
		TagNumber:         decodeAs[Number],
		TagBoolean:        decodeAs[Boolean],
		TagDate:           decodeAs[Date],
		TagDuration:       decodeAs[Duration],
		TagLink:           decodeAs[Link],
		TagSingleSelect:   decodeAs[SingleSelect],
		TagMultipleSelect: decodeAs[MultipleSelect],
		TagFile:           decodeAs[File],
		TagArray:          decodeArray,
		TagInvalid:        decodeAs[Invalid],
	}
}

func decodeAs[T Type](raw []byte) (Type, error) {
	var t T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func decodeArray(raw []byte) (Type, error) {
	var a Array
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// Tags — все зарегистрированные теги в стабильном порядке.
func Tags() []Tag {
	out := make([]Tag, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encode превращает тип в (тег, конфигурация) для хранения рядом с полем.
func Encode(t Type) (Tag, []byte, error) {
	if t == nil {
		return "", nil, fmt.Errorf("encode: nil type")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", t.Tag(), err)
	}
	return t.Tag(), raw, nil
}

// Decode восстанавливает тип по сохранённому тегу без повторной проверки формулы.
// Тег без обработчика — ErrUnknownFormulaType.
func Decode(tag Tag, raw []byte) (Type, error) {
	dec, ok := decoders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormulaType, tag)
	}
	t, err := dec(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return t, nil
}
