package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"5511999990000@c.us":          "5511999990000",
		"5511999990000@s.whatsapp.net": "5511999990000",
		"120363025@g.us":              "120363025",
		"+55 (11) 99999-0000":         "5511999990000",
		"":                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
	assert.True(t, IsGroupJID("120363025@g.us"))
	assert.False(t, IsGroupJID("5511999990000@c.us"))
}
