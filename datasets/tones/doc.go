// Package tones provides a synthetic spectrogram dataset. Every sample holds a
// single tone: a horizontal band of energy whose frequency band is the class,
// drawn across the whole time axis over gaussian noise. Any window cut along the
// time axis therefore sees the tone, which makes the set suitable for checking
// that stacked windowed levels learn.
package tones
