package schemaval

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dnstapir/telemetry-dashboard/shared"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

/* Default schema requires a JSON object, nothing more */
const cDEFAULT_SCHEMA = `{"type": "object"}`
const cDEFAULT_SCHEMA_URL = "./default.json"

type Schemaval struct {
	log    shared.LoggerIF
	schema *jsonschema.Schema
}

type Conf struct {
	Log      shared.LoggerIF
	Filename string
}

func Create(conf Conf) (*Schemaval, error) {
	newSchemaval := new(Schemaval)

	if conf.Log == nil {
		return nil, errors.New("error setting logger")
	}
	newSchemaval.log = conf.Log

	c := jsonschema.NewCompiler()

	var schema *jsonschema.Schema
	if conf.Filename == "" {
		newSchemaval.log.Warning("No JSON schema configured, only requiring a JSON object")

		defaultSchema, err := jsonschema.UnmarshalJSON(strings.NewReader(cDEFAULT_SCHEMA))
		if err != nil {
			return nil, errors.New("error unmarshaling default schema")
		}

		err = c.AddResource(cDEFAULT_SCHEMA_URL, defaultSchema)
		if err != nil {
			return nil, errors.New("error adding default schema")
		}

		schema, err = c.Compile(cDEFAULT_SCHEMA_URL)
		if err != nil {
			return nil, errors.New("error compiling default schema")
		}
	} else {
		var err error

		schema, err = c.Compile(conf.Filename)
		if err != nil {
			return nil, fmt.Errorf("error compiling schema '%s': %w", conf.Filename, err)
		}

		newSchemaval.log.Info("JSON schema configured: '%s'", conf.Filename)
	}

	newSchemaval.schema = schema

	return newSchemaval, nil
}

/*
 * Validate returns the unmarshalled JSON document so callers do not have to
 * parse the payload a second time.
 */
func (s *Schemaval) Validate(data []byte) (any, error) {
	obj, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON: %w", err)
	}

	err = s.schema.Validate(obj)
	if err != nil {
		s.log.Debug("Validation error '%s'", err)
		return nil, fmt.Errorf("payload does not match schema: %w", err)
	}

	return obj, nil
}
