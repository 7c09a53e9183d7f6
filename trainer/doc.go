// Package trainer provides high-level training orchestration for multilevel networks.
// It trains the levels bottom up, evaluates the top level after each one and
// keeps the best weights on disk.
package trainer
