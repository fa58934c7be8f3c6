package magpie

import "testing"

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		local   string
		domain  string
		wantErr bool
	}{
		{name: "simple", input: "user@example.com", local: "user", domain: "example.com"},
		{name: "plus tag", input: "user+tag@example.com", local: "user+tag", domain: "example.com"},
		{name: "dots in local", input: "first.last@example.com", local: "first.last", domain: "example.com"},
		{name: "quoted local", input: `"john doe"@example.com`, local: `"john doe"`, domain: "example.com"},
		{name: "quoted with at", input: `"a@b"@example.com`, local: `"a@b"`, domain: "example.com"},
		{name: "address literal", input: "user@[192.0.2.1]", local: "user", domain: "[192.0.2.1]"},
		{name: "utf8 local", input: "rené@example.com", local: "rené", domain: "example.com"},
		{name: "utf8 domain", input: "user@bücher.example", local: "user", domain: "bücher.example"},
		{name: "no at sign", input: "userexample.com", wantErr: true},
		{name: "empty local", input: "@example.com", wantErr: true},
		{name: "empty domain", input: "user@", wantErr: true},
		{name: "leading dot local", input: ".user@example.com", wantErr: true},
		{name: "trailing dot local", input: "user.@example.com", wantErr: true},
		{name: "double dot local", input: "us..er@example.com", wantErr: true},
		{name: "space in local", input: "us er@example.com", wantErr: true},
		{name: "unterminated quote", input: `"user@example.com`, wantErr: true},
		{name: "empty domain label", input: "user@example..com", wantErr: true},
		{name: "label starts with hyphen", input: "user@-bad.example", wantErr: true},
		{name: "unterminated literal", input: "user@[192.0.2.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) = %v, expected error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.input, err)
			}
			if got.LocalPart != tt.local || got.Domain != tt.domain {
				t.Errorf("ParseAddress(%q) = {%q, %q}, want {%q, %q}",
					tt.input, got.LocalPart, got.Domain, tt.local, tt.domain)
			}
		})
	}
}

func TestMailboxAddressEqual(t *testing.T) {
	a := MailboxAddress{LocalPart: "User", Domain: "Example.COM"}

	if !a.Equal(MailboxAddress{LocalPart: "User", Domain: "example.com"}) {
		t.Error("domain comparison must be case-insensitive")
	}
	if a.Equal(MailboxAddress{LocalPart: "user", Domain: "example.com"}) {
		t.Error("local part comparison must be exact")
	}
}

func TestMailboxAddressString(t *testing.T) {
	addr := MailboxAddress{LocalPart: "user", Domain: "example.com"}
	if got := addr.String(); got != "user@example.com" {
		t.Errorf("String() = %q", got)
	}
	if got := (MailboxAddress{}).String(); got != "" {
		t.Errorf("zero String() = %q, want empty", got)
	}
}

func TestPath(t *testing.T) {
	null := Path{}
	if !null.IsNull() {
		t.Error("zero Path must be the null path")
	}
	if got := null.String(); got != "<>" {
		t.Errorf("null Path String() = %q, want <>", got)
	}

	p := Path{Mailbox: MailboxAddress{LocalPart: "user", Domain: "example.com"}}
	if p.IsNull() {
		t.Error("non-empty Path reported as null")
	}
	if got := p.String(); got != "<user@example.com>" {
		t.Errorf("Path String() = %q", got)
	}
}
