package main

import (
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"syscall"
	"time"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms chunks, paced in real time
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-24khz.wav", "Path to WAV file (24kHz 16-bit mono)")
	pipePath := flag.String("pipe", "/tmp/downlink_tap", "FIFO the service reads from")
	loop := flag.Bool("loop", false, "Restart from the beginning when the file ends")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 || bitsPerSample != 16 {
		log.Fatal("Only 16-bit PCM supported")
	}
	if sampleRate != 24000 || numChannels != 1 {
		log.Printf("Warning: expected 24000 Hz mono, got %d Hz x%d", sampleRate, numChannels)
	}

	// bytes per 100ms chunk
	chunkSize := int(sampleRate) * int(numChannels) * 2 * chunkIntervalMs / 1000

	if err := syscall.Mkfifo(*pipePath, 0o666); err != nil && !os.IsExist(err) {
		log.Fatalf("Failed to create FIFO: %v", err)
	}

	log.Printf("Waiting for reader on %s", *pipePath)
	pipe, err := os.OpenFile(*pipePath, os.O_WRONLY, 0)
	if err != nil {
		log.Fatalf("Failed to open FIFO: %v", err)
	}
	defer pipe.Close()

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			if !*loop {
				break
			}
			if _, err := f.Seek(wavHeaderSize, io.SeekStart); err != nil {
				log.Fatalf("Failed to rewind: %v", err)
			}
			continue
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		if _, err := pipe.Write(audioChunk[:n]); err != nil {
			log.Fatalf("Failed to write chunk: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total, offset=%dms)", chunkNum, totalBytes, chunkNum*chunkIntervalMs)
		}

		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
}
