// Package main provides a demo program running inference with a three level
// network trained by train_levels.
package main
