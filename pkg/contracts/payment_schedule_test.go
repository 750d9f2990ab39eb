package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	s := PaymentSchedule{ID: "sub-1", IsActive: true, ExecutionsLeft: 3}
	assert.NoError(t, s.Validate())

	s.ExecutionsLeft = 0
	assert.Error(t, s.Validate(), "active schedule with no executions left is corrupt")

	s.IsActive = false
	assert.NoError(t, s.Validate(), "inactive exhausted schedule is a legal terminal state")

	empty := PaymentSchedule{}
	assert.Error(t, empty.Validate())
}

func TestTerminal(t *testing.T) {
	assert.False(t, (&PaymentSchedule{IsActive: true, ExecutionsLeft: 1}).Terminal())
	assert.True(t, (&PaymentSchedule{IsActive: false, ExecutionsLeft: 1}).Terminal())
	assert.True(t, (&PaymentSchedule{IsActive: true, ExecutionsLeft: 0}).Terminal())
}

func TestDueWindow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := PaymentSchedule{ID: "sub-1", NextPayment: at}
	b := PaymentSchedule{ID: "sub-1", NextPayment: at}
	assert.Equal(t, a.DueWindow(), b.DueWindow(), "same schedule and window must collide")

	c := PaymentSchedule{ID: "sub-1", NextPayment: at.Add(time.Hour)}
	assert.NotEqual(t, a.DueWindow(), c.DueWindow(), "advancing next_payment opens a new window")

	d := PaymentSchedule{ID: "sub-2", NextPayment: at}
	assert.NotEqual(t, a.DueWindow(), d.DueWindow())
}
