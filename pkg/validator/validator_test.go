package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type registerPayload struct {
	Email    string `json:"email" validate:"required,email"`
	UserName string `json:"userName" validate:"required,username"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := registerPayload{
		Email:    "alice@college.edu",
		UserName: "alice_01",
		Password: "secret1",
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	payload := registerPayload{
		Email:    "invalid",
		UserName: "a!",
		Password: "123",
	}

	err := ValidateStruct(payload)
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "username", fields["userName"])
	require.Equal(t, "min", fields["password"])
}

func TestUsernameRule(t *testing.T) {
	type payload struct {
		UserName string `validate:"username"`
	}

	for _, name := range []string{"bob", "Alice_99", "abcdefghijklmnopqrstuvwxyz0123"} {
		require.NoError(t, ValidateStruct(payload{UserName: name}), name)
	}
	for _, name := range []string{"ab", "has space", "dash-ed", "abcdefghijklmnopqrstuvwxyz01234"} {
		require.Error(t, ValidateStruct(payload{UserName: name}), name)
	}
}

func TestTrimmedMaxAndNotBlank(t *testing.T) {
	type payload struct {
		Title string `validate:"notblank,trimmedmax=5"`
	}

	require.NoError(t, ValidateStruct(payload{Title: "  hello  "}))
	require.Error(t, ValidateStruct(payload{Title: "hello!"}))
	require.Error(t, ValidateStruct(payload{Title: "   "}))
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("teatalks", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "teatalks"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"teatalks"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "teatalks"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
