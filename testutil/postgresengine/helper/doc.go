// Package helper provides testing utilities and test doubles for circulation store testing.
//
// This package contains shared testing infrastructure including domain fixtures,
// custom log handlers for capturing and validating log output during tests, and
// metrics and tracing collectors used across the circulation store test suite.
package helper
