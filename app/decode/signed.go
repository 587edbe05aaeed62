package decode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/keys"
	"github.com/dnstapir/telemetry-dashboard/shared"

	lru "github.com/hashicorp/golang-lru/v2"
)

const cKEY_CACHE_SIZE = 1000
const cNODEMAN_TIMEOUT = 5 * time.Second

type signedDecoder struct {
	log      shared.LoggerIF
	nodeman  shared.NodemanIF
	inner    Func
	keyCache *lru.Cache[string, keys.ValKey]
}

func createSigned(conf Conf, inner Func) (*signedDecoder, error) {
	newDecoder := new(signedDecoder)

	if conf.Log == nil {
		return nil, errors.New("error setting logger")
	}
	newDecoder.log = conf.Log

	if inner == nil {
		return nil, errors.New("no inner decoder")
	}
	newDecoder.inner = inner

	keyCache, err := lru.New[string, keys.ValKey](cKEY_CACHE_SIZE)
	if err != nil {
		return nil, errors.New("error creating key cache")
	}
	newDecoder.keyCache = keyCache

	if conf.Key != "" {
		key, err := keys.GetValKey(conf.Key)
		if err != nil {
			return nil, errors.New("error getting validation key")
		}

		newDecoder.keyCache.Add(key.KeyID(), key)
		conf.Log.Info("Validation key configured: '%s'", key.KeyID())
	}

	/* Keys not configured locally are fetched on demand */
	newDecoder.nodeman = conf.Nodeman

	if conf.Key == "" && conf.Nodeman == nil {
		return nil, errors.New("signed decoder without validation keys")
	}

	return newDecoder, nil
}

func (sd *signedDecoder) Decode(payload []byte) (float64, error) {
	keyID, err := keys.GetKeyIDFromSignedData(payload)
	if err != nil {
		return 0, err
	}

	key, err := sd.getKey(keyID)
	if err != nil {
		return 0, err
	}

	data, err := keys.CheckSignature(payload, key)
	if err != nil {
		return 0, err
	}
	sd.log.Debug("Signature validated with key '%s'", keyID)

	return sd.inner(data)
}

func (sd *signedDecoder) getKey(keyID string) (keys.ValKey, error) {
	key, ok := sd.keyCache.Get(keyID)
	if ok {
		return key, nil
	}

	if sd.nodeman == nil {
		return nil, fmt.Errorf("unknown key '%s'", keyID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cNODEMAN_TIMEOUT)
	defer cancel()

	keyBytes, err := sd.nodeman.GetKey(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("error getting key '%s' from nodeman: %w", keyID, err)
	}

	newKey, err := keys.ParseValKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("error parsing key '%s': %w", keyID, err)
	}

	if newKey.KeyID() != keyID {
		sd.log.Warning("Mismatch between key IDs '%s' and '%s'", newKey.KeyID(), keyID)
	}

	sd.keyCache.Add(keyID, newKey)
	sd.log.Info("Adding new key '%s' to cache", keyID)

	return newKey, nil
}
