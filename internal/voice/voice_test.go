package voice

import "testing"

func TestSelect(t *testing.T) {
	tests := []struct {
		nationality string
		gender      string
		want        string
	}{
		{"india", "female", "en-IN-NeerjaNeural"},
		{"india", "male", "en-IN-PrabhatNeural"},
		{"  India ", " MALE ", "en-IN-PrabhatNeural"},
		{"", "female", "en-US-JennyNeural"},
		{"", "male", "en-US-GuyNeural"},
		{"france", "male", "en-US-GuyNeural"},
		{"india", "other", "en-US-JennyNeural"},
		{"", "", "en-US-JennyNeural"},
	}

	for _, tt := range tests {
		t.Run(tt.nationality+"/"+tt.gender, func(t *testing.T) {
			if got := Select(tt.nationality, tt.gender); got != tt.want {
				t.Errorf("Select(%q, %q) = %q, want %q", tt.nationality, tt.gender, got, tt.want)
			}
		})
	}
}

func TestVoices_DefaultsFirst(t *testing.T) {
	v := Voices()
	if len(v) != 4 {
		t.Fatalf("len(Voices()) = %d, want 4", len(v))
	}
	if v[0].Nationality != "default" || v[0].Gender != Female {
		t.Errorf("first entry = %+v, want default/female", v[0])
	}
}
