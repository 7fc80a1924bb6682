package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeErrorWrap(t *testing.T) {
	err := ErrArgs.WrapMsg("sessionId required", "field", "sessionId")
	assert.True(t, ErrArgs.Is(err))
	assert.False(t, ErrInternal.Is(err))

	ce := From(err)
	assert.Equal(t, ArgsError, ce.Code)
	assert.Equal(t, "sessionId required, field=sessionId", ce.Detail)
	assert.Equal(t, "1001 ArgsError sessionId required, field=sessionId", ce.Error())
}

func TestFromPlainError(t *testing.T) {
	ce := From(errors.New("boom"))
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}

func TestWithDetailAppends(t *testing.T) {
	ce := ErrInternal.WithDetail("a").WithDetail("b")
	assert.Equal(t, "a, b", ce.Detail)
	assert.Empty(t, ErrInternal.Detail)
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("oops")
	assert.Equal(t, "oops", From(err).Detail)
}
