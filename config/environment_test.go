package config

import "testing"

func TestAppEnvironmentAliases(t *testing.T) {
	cases := map[string]string{
		"":            EnvironmentDevelopment,
		"prod":        EnvironmentProduction,
		"PROD":        EnvironmentProduction,
		"staging":     EnvironmentStaging,
		"stag":        EnvironmentStaging,
		"production":  EnvironmentProduction,
		" developmen": "developmen",
	}
	for value, want := range cases {
		t.Setenv("APP_ENV", value)
		if got := AppEnvironment(); got != want {
			t.Errorf("APP_ENV=%q: got %q, want %q", value, got, want)
		}
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(EnvironmentProduction) || !IsProductionLike(EnvironmentStaging) {
		t.Errorf("production and staging must be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) || IsProductionLike("test") {
		t.Errorf("development must not be production-like")
	}
}
