package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractContact(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Contact
	}{
		{
			name: "all fields",
			text: "Good day, my name is juan dela cruz. Email JUAN@example.ph, mobile 0917-123-4567",
			want: Contact{Name: "Juan", Email: "juan@example.ph", Phone: "+639171234567"},
		},
		{
			name: "two word name",
			text: "This is Rosa Lim, please call 0918 765 4321",
			want: Contact{Name: "Rosa Lim", Phone: "+639187654321"},
		},
		{
			name: "not a name",
			text: "I'm looking for a 2BR near the park",
			want: Contact{},
		},
		{
			name: "price is not a phone",
			text: "budget 4,500,000 max, I'm Ben",
			want: Contact{Name: "Ben"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractContact(tc.text, "PH"))
		})
	}
}
