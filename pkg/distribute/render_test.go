package distribute

import "testing"

func TestMapRenderer(t *testing.T) {
	data := map[string]string{
		"temp": "21",
		"city": "Oslo",
	}

	tests := []struct {
		name     string
		template string
		want     string
		wantErr  bool
	}{
		{"no placeholders", "plain text", "plain text", false},
		{"single", "Now {{temp}} degrees", "Now 21 degrees", false},
		{"multiple", "{{city}}: {{temp}}", "Oslo: 21", false},
		{"whitespace inside braces", "{{ temp }}", "21", false},
		{"adjacent", "{{temp}}{{city}}", "21Oslo", false},
		{"undefined variable", "Hello {{who}}", "", true},
		{"unterminated left literal", "stuck {{temp", "stuck {{temp", false},
		{"empty template", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MapRenderer{}.Render(tt.template, data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Render(%q) succeeded, want error", tt.template)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render(%q): %v", tt.template, err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}
