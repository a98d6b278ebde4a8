package smssvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
)

var (
	batchEndpoint  = "/send"
	directEndpoint = "/sendtext"
	unicodeType    = "3" // messages may contain Bangla text
)

// reveService sends messages through the Reve SMS gateway.
type reveService struct {
	host   string
	client *rest.Client
}

var _ sms.Provider = (*reveService)(nil)

func NewReveService(conf core.SMSConfig) *reveService {
	timeout := conf.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &reveService{
		host:   strings.TrimRight(conf.BaseURL, "/"),
		client: &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
	}
}

type reveContent struct {
	CallerID       string `json:"callerID"`
	ToUser         string `json:"toUser"`
	MessageContent string `json:"messageContent"`
}

func (svc reveService) authParams(creds sms.Credentials) map[string]string {
	params := map[string]string{
		"apikey":    creds.APIKey,
		"secretkey": creds.SecretKey,
		"type":      unicodeType,
	}
	if creds.ClientID != "" {
		params["clientid"] = creds.ClientID
	}
	return params
}

// SendBatch sends the same message to every phone in a single gateway request.
func (svc reveService) SendBatch(ctx context.Context, creds sms.Credentials, phones []string, message string) error {
	content, err := json.Marshal([]reveContent{{
		CallerID:       creds.CallerID,
		ToUser:         strings.Join(phones, ","),
		MessageContent: message,
	}})
	if err != nil {
		return errors.Wrap(err, "encoding sms content")
	}

	params := svc.authParams(creds)
	params["content"] = string(content)
	return svc.send(ctx, batchEndpoint, params)
}

func (svc reveService) SendDirect(ctx context.Context, creds sms.Credentials, phone, message string) error {
	params := svc.authParams(creds)
	params["callerID"] = creds.CallerID
	params["toUser"] = phone
	params["messageContent"] = message
	return svc.send(ctx, directEndpoint, params)
}

func (svc reveService) send(ctx context.Context, endpoint string, params map[string]string) error {
	req := rest.Request{
		Method:      rest.Get,
		BaseURL:     svc.host + endpoint,
		QueryParams: params,
	}

	httpReq, err := rest.BuildRequestObject(req)
	if err != nil {
		return errors.Wrapf(err, "building %s request", endpoint)
	}
	httpRes, err := svc.client.MakeRequest(httpReq.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "calling %s", endpoint)
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return errors.Wrapf(err, "reading %s response", endpoint)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sms gateway %s - status: %d - body: %s", endpoint, res.StatusCode, res.Body)
	}
	return nil
}
