package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailTypeForEvent(t *testing.T) {
	cases := map[string]string{
		EventOrderPlaced:       EmailTypeOrderConfirmation,
		EventOrderConfirmed:    EmailTypeOrderConfirmation,
		EventPaymentFailed:     EmailTypePaymentFailed,
		EventMemberInvited:     EmailTypeMemberInvitation,
		EventPromotionLaunched: EmailTypePromotional,
		"welcome":              EmailTypeWelcome,
		"SOMETHING_ELSE":       EmailTypeCustom,
		"":                     EmailTypeCustom,
	}
	for event, want := range cases {
		assert.Equal(t, want, EmailTypeForEvent(event), "event %q", event)
	}
	assert.Len(t, EventNames(), 20)
}

func TestDefaultPriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, DefaultPriority(EmailTypeOrderConfirmation))
	assert.Equal(t, PriorityLow, DefaultPriority(EmailTypeNewsletter))
	assert.True(t, IsMarketingType(EmailTypeNewsletter))
	assert.Equal(t, PriorityNormal, DefaultPriority(EmailTypeOrderShipped))
	assert.Equal(t, PriorityNormal, DefaultPriority(EmailTypeCustom))
}

func TestParsePriority(t *testing.T) {
	p, ok := ParsePriority(" HIGH ")
	assert.True(t, ok)
	assert.Equal(t, PriorityHigh, p)

	_, ok = ParsePriority("urgent")
	assert.False(t, ok)
}
