package smssvc

import (
	"context"
	"strings"
	"sync"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/sms"
)

// SentMessage is a request recorded by the console service.
type SentMessage struct {
	CallerID string
	Phones   []string
	Message  string
}

// ConsoleService logs messages instead of sending them.
type ConsoleService struct {
	logger        core.Logger
	disableOutput bool

	mu   sync.Mutex
	sent []SentMessage
}

var _ sms.Provider = (*ConsoleService)(nil)

func NewConsoleService(logger core.Logger) *ConsoleService {
	return &ConsoleService{logger: logger}
}

// NewConsoleServiceMock records messages without logging them.
func NewConsoleServiceMock() *ConsoleService {
	return &ConsoleService{disableOutput: true}
}

func (svc *ConsoleService) record(creds sms.Credentials, phones []string, message string) {
	svc.mu.Lock()
	svc.sent = append(svc.sent, SentMessage{CallerID: creds.CallerID, Phones: phones, Message: message})
	svc.mu.Unlock()

	if !svc.disableOutput {
		svc.logger.Info("sms: "+message, map[string]interface{}{
			"from": creds.CallerID,
			"to":   strings.Join(phones, ","),
		})
	}
}

func (svc *ConsoleService) SendBatch(_ context.Context, creds sms.Credentials, phones []string, message string) error {
	svc.record(creds, phones, message)
	return nil
}

func (svc *ConsoleService) SendDirect(_ context.Context, creds sms.Credentials, phone, message string) error {
	svc.record(creds, []string{phone}, message)
	return nil
}

// SentMessages returns the messages recorded so far.
func (svc *ConsoleService) SentMessages() []SentMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]SentMessage(nil), svc.sent...)
}
