package audio

import (
	"bytes"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func wav(seconds int) []byte {
	const rate, channels, bits = 8000, 1, 16
	byteRate := rate * channels * bits / 8
	dataLen := byteRate * seconds
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataLen))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bits))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataLen))
	b.Write(make([]byte, dataLen))
	return b.Bytes()
}

func TestWAVDuration(t *testing.T) {
	ms, ok := WAVDurationMS(wav(2))
	require.True(t, ok)
	require.Equal(t, 2000, ms)

	_, ok = WAVDurationMS([]byte("ID3 not a wav file"))
	require.False(t, ok)
}

func TestStoreSaveAndServe(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "https://bot.example.com/", "static/audio")
	require.NoError(t, err)
	s.newID = func() string { return "fixed" }

	clip, err := s.Save("1001", "wav", wav(1), 0)
	require.NoError(t, err)
	require.Equal(t, "audio_1001_fixed.wav", clip.Name)
	require.Equal(t, 1000, clip.DurationMS)
	require.Equal(t, "https://bot.example.com/static/audio/audio_1001_fixed.wav", s.URL(clip.Name))

	mp3, err := s.Save("../x", "mp3", []byte("ID3"), 1234)
	require.NoError(t, err)
	require.Equal(t, "audio____x_fixed.mp3", mp3.Name)
	require.Equal(t, 1234, mp3.DurationMS)
	_, err = os.Stat(filepath.Join(dir, mp3.Name))
	require.NoError(t, err)

	_, err = s.Save("1001", "wav", nil, 0)
	require.Error(t, err)

	h := s.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/audio/audio_1001_fixed.wav", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/audio/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEstimateMS(t *testing.T) {
	require.Equal(t, 4000, EstimateMS("one two three four five six seven eight nine ten", 1))
	require.Equal(t, 4000, EstimateMS("從前從前有一隻小貓咪住在山上的家", 1))
	require.Equal(t, 8000, EstimateMS("one two three four five six seven eight nine ten", 0.5))
}
