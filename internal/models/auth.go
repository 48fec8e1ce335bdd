package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	StudentID string   `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// IsOperator reports whether the caller acts with administrative rights.
func (c *JWTClaims) IsOperator() bool {
	return c != nil && c.Role.IsOperator()
}

// ActsFor reports whether the caller may act on behalf of the given student.
func (c *JWTClaims) ActsFor(studentID string) bool {
	if c == nil {
		return false
	}
	return c.IsOperator() || (c.StudentID != "" && c.StudentID == studentID)
}
