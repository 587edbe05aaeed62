package nodeman

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dnstapir/telemetry-dashboard/shared"
)

type Conf struct {
	Log           shared.LoggerIF
	NodemanApiUrl string
}

type nodemanclient struct {
	log    shared.LoggerIF
	url    *url.URL
	client http.Client
}

const cNODEMAN_NODE_API_FMT = "/node/%s/public_key"
const cMAX_KEY_SIZE = 64 * 1024

func Create(conf Conf) (*nodemanclient, error) {
	newNodeman := new(nodemanclient)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating nodeman client")
	}
	newNodeman.log = conf.Log

	nodemanUrl, err := url.Parse(conf.NodemanApiUrl)
	if err != nil || nodemanUrl.Scheme == "" || nodemanUrl.Host == "" {
		return nil, errors.New("invalid nodeman api url")
	}
	newNodeman.url = nodemanUrl

	tlsCfg := tls.Config{
		MinVersion: tls.VersionTLS13,
	}

	tr := &http.Transport{
		MaxIdleConns:       10,
		DisableCompression: true,
		TLSClientConfig:    &tlsCfg,
	}

	newNodeman.client = http.Client{
		Transport: tr,
	}

	return newNodeman, nil
}

func (n *nodemanclient) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		n.url.JoinPath(fmt.Sprintf(cNODEMAN_NODE_API_FMT, url.PathEscape(keyID))).String(),
		nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("accept", "application/json")

	rsp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nodeman returned status %d for key '%s'", rsp.StatusCode, keyID)
	}

	body, err := io.ReadAll(io.LimitReader(rsp.Body, cMAX_KEY_SIZE))
	if err != nil {
		return nil, err
	}

	n.log.Debug("Fetched key '%s' from nodeman", keyID)

	return body, nil
}
