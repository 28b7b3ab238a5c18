package a2a

import (
	"testing"
)

const callTestPrefix = "a2a:call_test"

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantID   string
	}{
		{"malformed json", `{"jsonrpc":`, CodeParseError, "null"},
		{"empty body", ``, CodeParseError, "null"},
		{"array body", `[1,2]`, CodeInvalidRequest, "null"},
		{"missing id", `{"jsonrpc":"2.0","method":"execute","params":{}}`, CodeInvalidRequest, "null"},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"execute","params":{}}`, CodeInvalidRequest, "null"},
		{"bad version", `{"jsonrpc":"1.0","id":"1","method":"execute","params":{}}`, CodeInvalidRequest, "1"},
		{"missing method", `{"jsonrpc":"2.0","id":"1","params":{}}`, CodeInvalidRequest, "1"},
		{"missing params", `{"jsonrpc":"2.0","id":"1","method":"message/send"}`, CodeInvalidRequest, "1"},
		{"params not object", `{"jsonrpc":"2.0","id":"1","method":"message/send","params":[1]}`, CodeInvalidRequest, "1"},
		{"unknown method", `{"jsonrpc":"2.0","id":9,"method":"tasks/get","params":{}}`, CodeMethodNotFound, "9"},
		{"message/send without message", `{"jsonrpc":"2.0","id":"1","method":"message/send","params":{}}`, CodeInvalidParams, "1"},
		{"execute without messages", `{"jsonrpc":"2.0","id":"1","method":"execute","params":{"contextId":"c"}}`, CodeInvalidParams, "1"},
		{"bad role", `{"jsonrpc":"2.0","id":"1","method":"message/send","params":{"message":{"role":"robot","parts":[]}}}`, CodeInvalidParams, "1"},
		{"bad callback url", `{"jsonrpc":"2.0","id":"1","method":"message/send","params":{"message":{"role":"user","parts":[]},"configuration":{"blocking":false,"callback":{"url":"not a url"}}}}`, CodeInvalidParams, "1"},
		{"wrong params type", `{"jsonrpc":"2.0","id":"1","method":"execute","params":{"messages":"x"}}`, CodeInvalidParams, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, fail := Parse([]byte(tt.body))
			if fail == nil {
				t.Fatalf("%s - expected failure, got %T", callTestPrefix, call)
			}
			if fail.Error.Code != tt.wantCode {
				t.Errorf("%s - code = %d, want %d", callTestPrefix, fail.Error.Code, tt.wantCode)
			}
			if fail.ID.String() != tt.wantID {
				t.Errorf("%s - id = %s, want %s", callTestPrefix, fail.ID, tt.wantID)
			}
		})
	}
}

func TestParse_MessageSend(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":"1","method":"message/send","params":{
		"message":{"kind":"message","role":"user","parts":[{"kind":"text","text":"BTC price"}]},
		"configuration":{"blocking":false,"pushNotificationConfig":{"url":"https://cb.test/hook","token":"tok"}}}}`

	call, fail := Parse([]byte(body))
	if fail != nil {
		t.Fatalf("%s - unexpected failure: %+v", callTestPrefix, fail.Error)
	}
	c, ok := call.(*MessageSendCall)
	if !ok {
		t.Fatalf("%s - got %T, want *MessageSendCall", callTestPrefix, call)
	}
	if c.Params.Configuration.IsBlocking() {
		t.Errorf("%s - expected non-blocking", callTestPrefix)
	}
	target := c.Params.Configuration.Target()
	if target == nil || target.URL != "https://cb.test/hook" {
		t.Fatalf("%s - callback target not decoded", callTestPrefix)
	}
	scheme, token := target.Credentials()
	if scheme != "Bearer" || token != "tok" {
		t.Errorf("%s - credentials = %q %q", callTestPrefix, scheme, token)
	}
	if msgs := c.Params.AllMessages(); len(msgs) != 1 || msgs[0].Parts[0].Text != "BTC price" {
		t.Errorf("%s - messages not decoded", callTestPrefix)
	}
}

func TestParse_ExecuteAndSummary(t *testing.T) {
	call, fail := Parse([]byte(`{"jsonrpc":"2.0","id":3,"method":"execute","params":{"contextId":"c","taskId":"t","messages":[{"role":"user","parts":[{"kind":"text","text":"ETH"}]}]}}`))
	if fail != nil {
		t.Fatalf("%s - execute failed: %+v", callTestPrefix, fail.Error)
	}
	if _, ok := call.(*ExecuteCall); !ok {
		t.Errorf("%s - got %T, want *ExecuteCall", callTestPrefix, call)
	}

	call, fail = Parse([]byte(`{"jsonrpc":"2.0","id":"s","method":"market/summary","params":{}}`))
	if fail != nil {
		t.Fatalf("%s - summary failed: %+v", callTestPrefix, fail.Error)
	}
	if call.Method() != MethodMarketSummary {
		t.Errorf("%s - method = %s", callTestPrefix, call.Method())
	}
}

func TestConfiguration_Defaults(t *testing.T) {
	var c *Configuration
	if !c.IsBlocking() {
		t.Errorf("%s - nil configuration must be blocking", callTestPrefix)
	}
	if c.Target() != nil {
		t.Errorf("%s - nil configuration has no target", callTestPrefix)
	}

	p := &PushNotificationConfig{URL: "https://x", Authentication: &PushAuthentication{Schemes: []string{"Token"}, Credentials: "abc"}}
	scheme, token := p.Credentials()
	if scheme != "Token" || token != "abc" {
		t.Errorf("%s - credentials = %q %q", callTestPrefix, scheme, token)
	}
}
