package model

import "fmt"

// Example contexts used by the demo and the tests.

func DemoUserContext() EvaluationContext {
	return NewContext("testing-user-v3", "user").With("tier", "silver")
}

func ExampleUserContext() EvaluationContext {
	return NewContext("user-123", "user").
		WithName("John Doe").
		With("tier", "premium").
		With("country", "US").
		With("subscription_id", "sub_123")
}

func ExampleOrganizationContext() EvaluationContext {
	return NewContext("org-456", "organization").
		WithName("Acme Corp").
		With("plan", "enterprise").
		With("region", "us-west-2").
		With("employee_count", 500)
}

func ExampleDeviceContext() EvaluationContext {
	return NewContext("device-789", "device").
		With("os", "iOS").
		With("version", "15.0").
		With("model", "iPhone 13").
		With("app_version", "2.1.0")
}

func ExampleMultiContext() EvaluationContext {
	user := NewContext("user-123", "user").
		WithName("Jane Smith").
		With("role", "admin")
	org := NewContext("org-456", "organization").
		WithName("Tech Corp").
		With("plan", "pro")
	return NewMultiContext(user, org)
}

// ExampleContext resolves an example by name, an empty name selects the demo user.
func ExampleContext(name string) (EvaluationContext, error) {
	switch name {
	case "", "demo":
		return DemoUserContext(), nil
	case "user":
		return ExampleUserContext(), nil
	case "organization":
		return ExampleOrganizationContext(), nil
	case "device":
		return ExampleDeviceContext(), nil
	case "multi":
		return ExampleMultiContext(), nil
	}
	return EvaluationContext{}, fmt.Errorf("unknown example context '%s'", name)
}
