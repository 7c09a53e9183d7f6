// Package main provides a demo program training a three level network on
// synthetic tone spectrograms. The first level classifies 16 column wide
// windows of the spectrogram, a frozen max pooling level halves the width of
// its features, and the top level classifies windows of the pooled features.
// Each trainable level is trained on its own once the levels below it are final.
package main
