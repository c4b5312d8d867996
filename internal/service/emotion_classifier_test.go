package service

import (
	"testing"

	"apoyo-citas/internal/domain"
)

func TestEmotionClassifierPriority(t *testing.T) {
	cases := []struct {
		name string
		text string
		want domain.EmotionCategory
	}{
		{"crisis wins over anxiety", "tengo ansiedad y ya no quiero vivir", domain.EmotionCrisis},
		{"crisis case insensitive", "ME QUIERO MORIR", domain.EmotionCrisis},
		{"anxiety over stress", "ansiedad por el estrés de exámenes", domain.EmotionAnxiety},
		{"stress over depression", "estoy estresado y triste", domain.EmotionStress},
		{"depresion is not presion", "creo que tengo depresión", domain.EmotionDepression},
		{"presion is stress", "siento mucha presión", domain.EmotionStress},
		{"menu shortcut 1", "1", domain.EmotionStress},
		{"menu shortcut 2", " 2 ", domain.EmotionAnxiety},
		{"menu shortcut 3", "3", domain.EmotionDepression},
		{"presion with exclamation marks", "¡Presión!", domain.EmotionStress},
		{"presion in parentheses", "(presión)", domain.EmotionStress},
		{"depresion with punctuation", "¿depresión?", domain.EmotionDepression},
		{"shortcut followed by period", "1.", domain.EmotionStress},
		{"shortcut followed by comma", "2, creo", domain.EmotionAnxiety},
		{"shortcut in parentheses", "(3)", domain.EmotionDepression},
		{"numbers inside words ignored", "tengo 12 tareas", domain.EmotionOther},
		{"no match", "hola", domain.EmotionOther},
		{"empty", "", domain.EmotionOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultEmotionClassifier.Classify(tc.text); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestEmotionClassifierDetectIntent(t *testing.T) {
	cases := []struct {
		text string
		want domain.Intent
	}{
		{"Agendar cita", domain.IntentAppointment},
		{"4", domain.IntentAppointment},
		{"opción 4.", domain.IntentAppointment},
		{"Contactos de emergencia", domain.IntentResources},
		{"muchas gracias", domain.IntentFarewell},
		{"hola", domain.IntentNone},
		// una categoría emocional anula la intención
		{"quiero una cita porque tengo ansiedad", domain.IntentNone},
	}
	for _, tc := range cases {
		if got := DefaultEmotionClassifier.DetectIntent(tc.text); got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.text, tc.want, got)
		}
	}
}
