package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := map[string]string{
		"Nguyễn Văn An": "Nguyen Van An",
		"José Martí":    "Jose Marti",
		"Zoë":           "Zoe",
		"Tan Wei Ming":  "Tan Wei Ming",
		"":              "",
	}

	for input, want := range tests {
		if got := RemoveDiacritics(input); got != want {
			t.Errorf("RemoveDiacritics(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizePersonName(t *testing.T) {
	// roster names are matched against labels that come from image file
	// names and identity source files
	tests := []struct {
		input    string
		expected string
	}{
		{"Nguyễn Văn An", "nguyen van an"},
		{"nguyen_van_an", "nguyen van an"},
		{"TAN-WEI-MING", "tan wei ming"},
		{"  José   Martí ", "jose marti"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizePersonName(tt.input); got != tt.expected {
				t.Errorf("NormalizePersonName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
