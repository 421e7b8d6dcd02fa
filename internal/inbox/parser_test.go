package inbox

import "testing"

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"line breaks", "<div>Hi<br>there</div>", "Hi\nthere"},
		{"scripts dropped", "<p>Keep</p><script>alert(1)</script><style>p{}</style>", "Keep"},
		{"entities", "<p>Tom &amp; Jerry</p>", "Tom & Jerry"},
		{"spaces collapsed", "<p>a   b\t c</p>", "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTMLToText(tt.html); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseReferences(t *testing.T) {
	got := ParseReferences("<a@x.com> <b@x.com>\r\n <c@x.com>")
	if len(got) != 3 || got[0] != "<a@x.com>" || got[2] != "<c@x.com>" {
		t.Errorf("got %v", got)
	}

	got = ParseReferences("bare@x.com")
	if len(got) != 1 || got[0] != "<bare@x.com>" {
		t.Errorf("got %v", got)
	}

	if got := ParseReferences(""); len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}

func TestNormalizeMessageID(t *testing.T) {
	if got := NormalizeMessageID(" abc@x "); got != "<abc@x>" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeMessageID("<abc@x>"); got != "<abc@x>" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeMessageID(""); got != "" {
		t.Errorf("got %q", got)
	}
}
