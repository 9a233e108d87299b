package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintIsOrderInsensitive(t *testing.T) {
	a := LaunchOptions{Headless: true, Args: []string{"--lang=en", "--window-size=800,600"}}
	b := LaunchOptions{Headless: true, Args: []string{"--window-size=800,600", "--lang=en"}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprintSeparatesConfigurations(t *testing.T) {
	headless := LaunchOptions{Headless: true}
	headed := LaunchOptions{Headless: false}
	assert.NotEqual(t, headless.Fingerprint(), headed.Fingerprint())

	plain := LaunchOptions{Headless: true}
	flagged := LaunchOptions{Headless: true, Args: []string{"--lang=de"}}
	assert.NotEqual(t, plain.Fingerprint(), flagged.Fingerprint())
}

func TestFingerprintDoesNotMutateArgs(t *testing.T) {
	opts := LaunchOptions{Args: []string{"zz", "aa"}}
	opts.Fingerprint()
	assert.Equal(t, []string{"zz", "aa"}, opts.Args)
}

func TestSplitFlag(t *testing.T) {
	name, value := splitFlag("--window-size=800,600")
	assert.Equal(t, "window-size", name)
	assert.Equal(t, "800,600", value)

	name, value = splitFlag("--disable-gpu")
	assert.Equal(t, "disable-gpu", name)
	assert.Equal(t, true, value)

	name, value = splitFlag("lang=en")
	assert.Equal(t, "lang", name)
	assert.Equal(t, "en", value)
}
