package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusIgnoresCase(t *testing.T) {
	for in, want := range map[string]Status{
		"placed":    StatusPlaced,
		"Paid":      StatusPaid,
		" SHIPPED ": StatusShipped,
		"done":      StatusDone,
		"cAnCeLeD":  StatusCanceled,
	} {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "REFUNDED", "cancelled"} {
		_, err := ParseStatus(in)
		assert.ErrorIs(t, err, ErrUnknownStatus, in)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		from, to Status
		want     transition
	}{
		{StatusPlaced, StatusPlaced, transitionNoop},
		{StatusCanceled, StatusCanceled, transitionNoop},
		{StatusPlaced, StatusCanceled, transitionCancel},
		{StatusDone, StatusCanceled, transitionCancel},
		{StatusCanceled, StatusPlaced, transitionRestore},
		{StatusCanceled, StatusDone, transitionRestore},
		{StatusPlaced, StatusPaid, transitionPlain},
		{StatusDone, StatusPlaced, transitionPlain},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classify(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestIsForward(t *testing.T) {
	assert.True(t, IsForward(StatusPlaced, StatusPaid))
	assert.True(t, IsForward(StatusShipped, StatusDone))
	assert.True(t, IsForward(StatusPaid, StatusCanceled))
	assert.False(t, IsForward(StatusDone, StatusPlaced))
	assert.False(t, IsForward(StatusCanceled, StatusPlaced))
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 7}, uniqueIDs([]int64{7, 3, 3, 0, -2, 1, 7}))
	assert.Empty(t, uniqueIDs(nil))
}

func TestEffectivePrice(t *testing.T) {
	p, d := int64(100), int64(80)

	got, ok := Book{Price: &p, DiscountPrice: &d}.EffectivePrice()
	assert.True(t, ok)
	assert.Equal(t, d, got)

	got, ok = Book{Price: &p}.EffectivePrice()
	assert.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = Book{}.EffectivePrice()
	assert.False(t, ok)
}
