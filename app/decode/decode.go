package decode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dnstapir/telemetry-dashboard/shared"
)

const (
	DECODER_FLOAT = "float"
	DECODER_JSON  = "json"
	DECODER_JWS   = "jws"
)

/* Func turns a raw payload into a sample value */
type Func func([]byte) (float64, error)

var ErrNotFinite = errors.New("value is not a finite number")

type Conf struct {
	Log        shared.LoggerIF
	Nodeman    shared.NodemanIF
	Decoder    string
	Inner      string
	Schema     string
	ValueField string
	Key        string
}

/*
 * Float is the default decoder. Surrounding whitespace is ignored, anything
 * else that is not a plain number (including NaN and Inf) is rejected.
 */
func Float(payload []byte) (float64, error) {
	str := strings.TrimSpace(string(payload))
	if str == "" {
		return 0, errors.New("empty payload")
	}

	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a number: %w", str, err)
	}

	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, ErrNotFinite
	}

	return val, nil
}

func Create(conf Conf) (Func, error) {
	switch conf.Decoder {
	case "", DECODER_FLOAT:
		return Float, nil
	case DECODER_JSON:
		jd, err := createJson(conf)
		if err != nil {
			return nil, err
		}
		return jd.Decode, nil
	case DECODER_JWS:
		innerConf := conf
		innerConf.Decoder = conf.Inner
		innerConf.Inner = ""
		if innerConf.Decoder == DECODER_JWS {
			return nil, errors.New("jws decoder cannot wrap itself")
		}

		inner, err := Create(innerConf)
		if err != nil {
			return nil, err
		}

		sd, err := createSigned(conf, inner)
		if err != nil {
			return nil, err
		}
		return sd.Decode, nil
	default:
		return nil, fmt.Errorf("unsupported decoder '%s'", conf.Decoder)
	}
}
