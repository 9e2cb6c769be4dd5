package validator_test

import (
	"fmt"
	"testing"

	"guildchat-backend/internal/validator"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		name          string
		username      string
		expectedError error
	}{
		{
			name:          "Valid: Simple username",
			username:      "gamer",
			expectedError: nil,
		},
		{
			name:          "Valid: With underscore and dot",
			username:      "cool_user.42",
			expectedError: nil,
		},
		{
			name:          "Valid: Minimum length",
			username:      "ab",
			expectedError: nil,
		},

		{
			name:          "Error: Too short",
			username:      "a",
			expectedError: fmt.Errorf("short_username"),
		},
		{
			name:          "Error: Too long",
			username:      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			expectedError: fmt.Errorf("long_username"),
		},
		{
			name:          "Error: Uppercase not allowed",
			username:      "Gamer",
			expectedError: fmt.Errorf("bad_format"),
		},
		{
			name:          "Error: Spaces not allowed",
			username:      "cool user",
			expectedError: fmt.Errorf("bad_format"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Username(tc.username)

			if tc.expectedError == nil {
				if err != nil {
					t.Errorf("Username(%q) failed unexpectedly: got error %v, want nil", tc.username, err)
				}
				return
			}

			if err == nil {
				t.Errorf("Username(%q) passed unexpectedly: got nil, want error %v", tc.username, tc.expectedError)
				return
			}

			if err.Error() != tc.expectedError.Error() {
				t.Errorf("Username(%q) got error %q, want error %q", tc.username, err.Error(), tc.expectedError.Error())
			}
		})
	}
}

func TestDiscriminator(t *testing.T) {
	tests := []struct {
		name          string
		discriminator string
		expectedError error
	}{
		{
			name:          "Valid: Four digits",
			discriminator: "0042",
			expectedError: nil,
		},
		{
			name:          "Error: Too short",
			discriminator: "42",
			expectedError: fmt.Errorf("bad_format"),
		},
		{
			name:          "Error: Letters",
			discriminator: "ab42",
			expectedError: fmt.Errorf("bad_format"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Discriminator(tc.discriminator)

			if tc.expectedError == nil {
				if err != nil {
					t.Errorf("Discriminator(%q) failed unexpectedly: got error %v, want nil", tc.discriminator, err)
				}
				return
			}

			if err == nil {
				t.Errorf("Discriminator(%q) passed unexpectedly: got nil, want error %v", tc.discriminator, tc.expectedError)
				return
			}

			if err.Error() != tc.expectedError.Error() {
				t.Errorf("Discriminator(%q) got error %q, want error %q", tc.discriminator, err.Error(), tc.expectedError.Error())
			}
		})
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name          string
		password      string
		expectedError error
	}{
		{
			name:          "Valid Password: Minimum Length",
			password:      "aA1bB2",
			expectedError: nil,
		},
		{
			name:          "Valid Password: Mixed Case and Symbols",
			password:      "P@sswOrd123!",
			expectedError: nil,
		},

		{
			name:          "Error: Password Too Short",
			password:      "aA1",
			expectedError: fmt.Errorf("short_password"),
		},
		{
			name:          "Error: Missing Lowercase Character",
			password:      "AABBCC1234",
			expectedError: fmt.Errorf("no_lowercase"),
		},
		{
			name:          "Error: Missing Uppercase Character",
			password:      "aabbcc1234",
			expectedError: fmt.Errorf("no_uppercase"),
		},
		{
			name:          "Error: Missing Number",
			password:      "PasswordABC",
			expectedError: fmt.Errorf("no_number"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Password(tc.password)

			if tc.expectedError == nil {
				if err != nil {
					t.Errorf("Password(%q) failed unexpectedly: got error %v, want nil", tc.password, err)
				}
				return
			}

			if err == nil {
				t.Errorf("Password(%q) passed unexpectedly: got nil, want error %v", tc.password, tc.expectedError)
				return
			}

			if err.Error() != tc.expectedError.Error() {
				t.Errorf("Password(%q) got error %q, want error %q", tc.password, err.Error(), tc.expectedError.Error())
			}
		})
	}
}
