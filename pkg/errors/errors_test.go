package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedCodes(t *testing.T) {
	inner := TargetAlreadyExists("DEV_DATALAKE", fmt.Errorf("object exists"))
	outer := Wrap(ErrCodePermanent, "step 1 failed", inner)
	wrapped := fmt.Errorf("execute: %w", outer)

	assert.True(t, Is(wrapped, ErrCodePermanent))
	assert.True(t, Is(wrapped, ErrCodeTargetAlreadyExists))
	assert.False(t, Is(wrapped, ErrCodeTransient))
	assert.Equal(t, ErrCodePermanent, CodeOf(wrapped))
}

func TestIs_PlainError(t *testing.T) {
	assert.False(t, Is(fmt.Errorf("boom"), ErrCodeValidation))
	assert.False(t, Is(nil, ErrCodeValidation))
	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("boom")))
}

func TestCyclicDependency_Message(t *testing.T) {
	err := CyclicDependency([]string{"A", "B", "A"})
	assert.Equal(t, "[CYCLIC_DEPENDENCY] dependency cycle detected: A -> B -> A", err.Error())
	assert.Equal(t, []string{"A", "B", "A"}, err.Details["cycle"])
}

func TestUnresolvedVariable_Details(t *testing.T) {
	err := UnresolvedVariable("${TARGET_DATABASE}", "rbac.service_roles[0]")
	assert.Equal(t, "${TARGET_DATABASE}", err.Details["placeholder"])
	assert.Equal(t, "rbac.service_roles[0]", err.Details["path"])
	assert.Contains(t, err.Error(), "UNRESOLVED_VARIABLE")
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeBackend, "x").WithDetail("a", 1).WithDetails(map[string]interface{}{"b": 2})
	assert.Equal(t, 1, err.Details["a"])
	assert.Equal(t, 2, err.Details["b"])
}
