package i18n

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestTranslator(t *testing.T) {
	tr := NewTranslator("en", zerolog.Nop())

	cases := []struct {
		locale, key, want string
	}{
		{"", "event_full", "event is fully booked"},
		{"fr", "event_full", "l'événement est complet"},
		{"fr-CA,fr;q=0.9,en;q=0.8", "not_organizer", "seul l'organisateur peut effectuer cette action"},
		{"de", "insufficient_funds", "insufficient funds"},
		{"fr", "no_such_key", "fallback"},
		{"fr", "", "fallback"},
	}
	for _, tc := range cases {
		if got := tr.T(tc.locale, tc.key, "fallback"); got != tc.want {
			t.Errorf("T(%q, %q) = %q, want %q", tc.locale, tc.key, got, tc.want)
		}
	}
}

func TestTranslator_BadDefaultLocale(t *testing.T) {
	tr := NewTranslator("???", zerolog.Nop())
	if got := tr.T("", "event_not_found", ""); got != "event not found" {
		t.Errorf("got %q", got)
	}
}
