package magpie

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		cmd  Command
		args string
	}{
		{"EHLO client.example.com", CmdEhlo, "client.example.com"},
		{"ehlo client.example.com", CmdEhlo, "client.example.com"},
		{"HELO host", CmdHelo, "host"},
		{"MAIL FROM:<a@b.c>", CmdMail, "FROM:<a@b.c>"},
		{"mail from:<a@b.c> SIZE=100", CmdMail, "from:<a@b.c> SIZE=100"},
		{"RCPT TO:<a@b.c>", CmdRcpt, "TO:<a@b.c>"},
		{"DATA", CmdData, ""},
		{"RSET", CmdRset, ""},
		{"NOOP", CmdNoop, ""},
		{"QUIT", CmdQuit, ""},
		{"VRFY user@example.com", CmdVrfy, "user@example.com"},
		{"STARTTLS", CmdStartTLS, ""},
		{"starttls", CmdStartTLS, ""},
		{"AUTH PLAIN dGVzdA==", CmdAuth, "PLAIN dGVzdA=="},
		{"BOGUS", CmdUnknown, ""},
		{"EXPN list", CmdUnknown, "list"},
		{"", CmdUnknown, ""},
		{"EH", CmdUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, args := parseCommand(tt.line)
			if cmd != tt.cmd || args != tt.args {
				t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)",
					tt.line, cmd, args, tt.cmd, tt.args)
			}
		})
	}
}

func TestParsePathWithParams(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		path    string
		params  map[string]string
		wantErr bool
	}{
		{name: "bare path", input: "<user@example.com>", path: "<user@example.com>"},
		{name: "null path", input: "<>", path: "<>"},
		{
			name:   "with params",
			input:  "<user@example.com> SIZE=1000 BODY=8BITMIME",
			path:   "<user@example.com>",
			params: map[string]string{"SIZE": "1000", "BODY": "8BITMIME"},
		},
		{
			name:   "lowercase keyword uppercased",
			input:  "<user@example.com> size=5",
			path:   "<user@example.com>",
			params: map[string]string{"SIZE": "5"},
		},
		{
			name:   "valueless param",
			input:  "<user@example.com> SMTPUTF8",
			path:   "<user@example.com>",
			params: map[string]string{"SMTPUTF8": ""},
		},
		{
			name:  "source route stripped",
			input: "<@relay.example:user@example.com>",
			path:  "<user@example.com>",
		},
		{name: "no brackets", input: "user@example.com", wantErr: true},
		{name: "reversed brackets", input: ">user@example.com<", wantErr: true},
		{name: "bad address", input: "<user>", wantErr: true},
		{name: "duplicate param", input: "<a@b.c> SIZE=1 SIZE=2", wantErr: true},
		{name: "duplicate param case-folded", input: "<a@b.c> size=1 SIZE=2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, params, err := parsePathWithParams(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsePathWithParams(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePathWithParams(%q) error = %v", tt.input, err)
			}
			if path.String() != tt.path {
				t.Errorf("path = %q, want %q", path.String(), tt.path)
			}
			if len(params) != len(tt.params) {
				t.Fatalf("params = %v, want %v", params, tt.params)
			}
			for k, v := range tt.params {
				if params[k] != v {
					t.Errorf("params[%q] = %q, want %q", k, params[k], v)
				}
			}
		})
	}
}

func TestCutPrefixFold(t *testing.T) {
	if rest, ok := cutPrefixFold("FROM:<a@b.c>", "FROM:"); !ok || rest != "<a@b.c>" {
		t.Errorf("cutPrefixFold exact = (%q, %v)", rest, ok)
	}
	if rest, ok := cutPrefixFold("from:<a@b.c>", "FROM:"); !ok || rest != "<a@b.c>" {
		t.Errorf("cutPrefixFold folded = (%q, %v)", rest, ok)
	}
	if _, ok := cutPrefixFold("TO:<a@b.c>", "FROM:"); ok {
		t.Error("cutPrefixFold matched the wrong prefix")
	}
	if _, ok := cutPrefixFold("FRO", "FROM:"); ok {
		t.Error("cutPrefixFold matched a short string")
	}
}
