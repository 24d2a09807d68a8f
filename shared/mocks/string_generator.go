package mocks

import (
	"github.com/stretchr/testify/mock"
)

type MockStringGenerator struct {
	mock.Mock
}

func (m *MockStringGenerator) GenerateObjectId() string {
	args := m.Called()
	return args.String(0)
}
