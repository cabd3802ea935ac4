// Package audio defines the sample-level types shared by the streaming and
// file analysis paths of Auralyze.
//
// Raw bytes arrive as [AudioChunk] values and are decoded according to a
// configured [SampleFormat] into float64 samples. Fixed-length runs of those
// samples form a [SampleWindow], the unit handed to feature extraction.
//
// Whole files (WAV or headerless PCM) are decoded by [DecodeFile] into a
// [Clip] and normalised to the analysis format by [Normalizer].
package audio
