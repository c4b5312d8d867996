package service

import (
	"strings"
	"testing"
	"time"

	"apoyo-citas/internal/domain"
)

func TestResponseCatalogTemplates(t *testing.T) {
	for _, cat := range []domain.EmotionCategory{
		domain.EmotionCrisis, domain.EmotionAnxiety, domain.EmotionStress, domain.EmotionDepression, domain.EmotionOther,
	} {
		tmpl := DefaultResponseCatalog.TemplateFor(cat)
		if strings.TrimSpace(tmpl.Text) == "" {
			t.Fatalf("%s: empty text", cat)
		}
		if len(tmpl.Options) > 5 {
			t.Fatalf("%s: too many options %d", cat, len(tmpl.Options))
		}
		if tmpl.Emergency != (cat == domain.EmotionCrisis) {
			t.Fatalf("%s: unexpected emergency flag %v", cat, tmpl.Emergency)
		}
	}

	crisis := DefaultResponseCatalog.TemplateFor(domain.EmotionCrisis)
	if !strings.Contains(crisis.Text, "911") {
		t.Fatalf("crisis text must include emergency number")
	}
	found := false
	for _, opt := range crisis.Options {
		if opt == "Contactos de emergencia" {
			found = true
		}
	}
	if !found {
		t.Fatalf("crisis options must include emergency contacts, got %v", crisis.Options)
	}
}

func TestResponseCatalogReturnsCopies(t *testing.T) {
	a := DefaultResponseCatalog.TemplateFor(domain.EmotionStress)
	a.Options[0] = "mutado"
	b := DefaultResponseCatalog.TemplateFor(domain.EmotionStress)
	if b.Options[0] == "mutado" {
		t.Fatalf("catalog entries must not be shared")
	}
}

func TestResponseCatalogGreeting(t *testing.T) {
	cases := map[int]string{8: "Buenos días", 15: "Buenas tardes", 22: "Buenas noches", 3: "Buenas noches"}
	for hour, want := range cases {
		g := DefaultResponseCatalog.Greeting(time.Date(2026, 1, 1, hour, 0, 0, 0, time.UTC))
		if !strings.Contains(g.Text, want) {
			t.Fatalf("hour %d: expected %q in %q", hour, want, g.Text)
		}
		if len(g.Options) != len(MenuOptions) {
			t.Fatalf("greeting must offer the full menu")
		}
	}
}

func TestResponseCatalogIntentAndFallback(t *testing.T) {
	if _, ok := DefaultResponseCatalog.TemplateForIntent(domain.IntentNone); ok {
		t.Fatalf("IntentNone must not have a template")
	}
	tmpl, ok := DefaultResponseCatalog.TemplateForIntent(domain.IntentAppointment)
	if !ok || !strings.Contains(tmpl.Text, bookingURL) {
		t.Fatalf("appointment template must link the booking page")
	}
	fb := DefaultResponseCatalog.Fallback()
	if len(fb.Options) != 0 || fb.Emergency {
		t.Fatalf("fallback must be a plain apology, got %+v", fb)
	}
}

func TestRenderSafe(t *testing.T) {
	t.Run("escapes markup", func(t *testing.T) {
		got := RenderSafe(`<script>alert("x")</script>`)
		if strings.Contains(got, "<script>") {
			t.Fatalf("markup not escaped: %q", got)
		}
	})

	t.Run("links urls", func(t *testing.T) {
		got := RenderSafe("visita https://tu-centro.example/agenda hoy")
		want := `visita <a href="https://tu-centro.example/agenda" target="_blank" rel="noopener noreferrer">https://tu-centro.example/agenda</a> hoy`
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("ignores other schemes", func(t *testing.T) {
		got := RenderSafe("javascript:alert(1)")
		if strings.Contains(got, "<a") {
			t.Fatalf("non-http scheme must not be linked: %q", got)
		}
	})
}
