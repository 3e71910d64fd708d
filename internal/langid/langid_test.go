package langid

import "testing"

func TestWhatlangIdentify(t *testing.T) {
	w := NewWhatlang("en", "fr", "es")
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"The patient was admitted to the hospital on Monday morning and discharged after three days of observation.", "en", true},
		{"Le patient a été admis à l'hôpital lundi matin et il est sorti après trois jours d'observation.", "fr", true},
		{"Bonjour", "", false},
		{"12/04/2023 0612345678", "", false},
	}
	for _, c := range cases {
		got, ok := w.Identify(c.text)
		if ok != c.ok || got != c.want {
			t.Errorf("Identify(%.30q) = %q,%v want %q,%v", c.text, got, ok, c.want, c.ok)
		}
	}
}

func TestWhatlangRejectsUnconfiguredLanguage(t *testing.T) {
	french := "Le patient a été admis à l'hôpital lundi matin et il est sorti après trois jours d'observation."
	spanish := "El paciente fue ingresado en el hospital el lunes por la mañana y salió después de tres días de observación."
	cases := []struct {
		name    string
		allowed []string
		text    string
	}{
		{"french text, english model", []string{"en"}, french},
		{"spanish text, english and french models", []string{"en", "fr"}, spanish},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, ok := NewWhatlang(c.allowed...).Identify(c.text)
			if ok {
				t.Fatalf("Identify = %q,true; text in an unconfigured language must not be accepted", code)
			}
			for _, a := range c.allowed {
				if code == a {
					t.Errorf("detected code = %q, a configured language", code)
				}
			}
		})
	}
}

func TestWhatlangNoRestriction(t *testing.T) {
	code, ok := NewWhatlang().Identify("El paciente fue ingresado en el hospital el lunes por la mañana y salió después de tres días de observación.")
	if code != "es" || !ok {
		t.Errorf("Identify = %q,%v want es,true", code, ok)
	}
}

func TestFixed(t *testing.T) {
	if code, ok := Fixed("fr").Identify("anything"); code != "fr" || !ok {
		t.Errorf("Fixed(fr) = %q,%v", code, ok)
	}
	if _, ok := Fixed("").Identify("anything"); ok {
		t.Error("empty Fixed should report unknown")
	}
}

func TestCountLetters(t *testing.T) {
	if n := countLetters("Élise, 42 ans!"); n != 8 {
		t.Errorf("countLetters = %d, want 8", n)
	}
}
