package ops

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/wippyai/op-runtime/errors"
)

// Decode converts the structured argument into T. Struct fields are
// matched by their json tags and numbers convert across widths.
func Decode[T any](a Args) (T, error) {
	var out T
	if a.Value == nil {
		return out, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return out, errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "build decoder")
	}
	if err := dec.Decode(a.Value); err != nil {
		return out, errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Cause(err).
			Detail("cannot decode %T into %T", a.Value, out).
			Build()
	}
	return out, nil
}
