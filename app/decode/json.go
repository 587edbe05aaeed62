package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dnstapir/telemetry-dashboard/app/schemaval"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

const cDEFAULT_VALUE_FIELD = "value"

type jsonDecoder struct {
	log        shared.LoggerIF
	schemaval  *schemaval.Schemaval
	valueField string
}

func createJson(conf Conf) (*jsonDecoder, error) {
	newDecoder := new(jsonDecoder)

	if conf.Log == nil {
		return nil, errors.New("error setting logger")
	}
	newDecoder.log = conf.Log

	newDecoder.valueField = conf.ValueField
	if newDecoder.valueField == "" {
		newDecoder.valueField = cDEFAULT_VALUE_FIELD
	}

	schemaConf := schemaval.Conf{
		Log:      conf.Log,
		Filename: conf.Schema,
	}
	schema, err := schemaval.Create(schemaConf)
	if err != nil {
		return nil, err
	}
	newDecoder.schemaval = schema

	return newDecoder, nil
}

func (jd *jsonDecoder) Decode(payload []byte) (float64, error) {
	obj, err := jd.schemaval.Validate(payload)
	if err != nil {
		return 0, err
	}

	m, ok := obj.(map[string]any)
	if !ok {
		return 0, errors.New("payload is not a JSON object")
	}

	raw, ok := m[jd.valueField]
	if !ok {
		return 0, fmt.Errorf("field '%s' missing", jd.valueField)
	}

	var val float64
	switch v := raw.(type) {
	case json.Number:
		val, err = v.Float64()
		if err != nil {
			return 0, fmt.Errorf("field '%s': %w", jd.valueField, err)
		}
	case float64:
		val = v
	case string:
		return Float([]byte(v))
	default:
		return 0, fmt.Errorf("field '%s' is not a number", jd.valueField)
	}

	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, ErrNotFinite
	}

	return val, nil
}
