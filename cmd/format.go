// cmd/format.go

package main

import (
	"bytes"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"TierCtx/pkg/compress"
	"TierCtx/pkg/medium"
	"TierCtx/pkg/version"
)

// stampKey is the blob holding the medium's format stamp.
const stampKey = "tierctx.format"

// formatStamp records how chunks on this medium are laid out; serve
// refuses to mix chunk sizes or codecs on one medium.
type formatStamp struct {
	UUID        string `json:"uuid"`
	Version     string `json:"version"`
	ChunkSize   int    `json:"chunkSizeTokens"`
	Compression string `json:"compression"`
	Encrypted   bool   `json:"encrypted"`
	FormatedAt  string `json:"formatedAt"`
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

func randSeq(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func doTesting(store medium.Medium, key string, data []byte) error {
	if err := store.Put(key, bytes.NewReader(data)); err != nil {
		if strings.Contains(err.Error(), "Access Denied") {
			return fmt.Errorf("Failed to put: %s", err)
		}
		if err2 := store.Create(); err2 != nil {
			return fmt.Errorf("Failed to create %s: %s, previous error: %s", store, err2, err)
		}
		if err := store.Put(key, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("Failed to put: %s", err)
		}
	}
	p, err := store.Get(key, 0, -1)
	if err != nil {
		return fmt.Errorf("Failed to get: %s", err)
	}
	data2, err := io.ReadAll(p)
	_ = p.Close()
	if err != nil {
		return err
	}
	if !bytes.Equal(data, data2) {
		return fmt.Errorf("Read wrong data")
	}
	err = store.Delete(key)
	if err != nil {
		// it's OK to don't have deletion permission
		fmt.Printf("Failed to delete: %s", err)
	}
	return nil
}

func test(store medium.Medium) error {
	key := "testing/" + randSeq(10)
	data := make([]byte, 100)
	crand.Read(data)
	nRetry := 3
	var err error
	for i := 0; i < nRetry; i++ {
		err = doTesting(store, key, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Second * time.Duration(i*3+1))
	}
	return err
}

func openMedium(uri, keyPath string) (medium.Medium, error) {
	m, err := medium.Open(uri)
	if err != nil {
		return nil, err
	}
	if keyPath != "" {
		passphrase := os.Getenv("TIERCTX_RSA_PASSPHRASE")
		privKey, err := medium.ParseRsaPrivateKeyFromPath(keyPath, passphrase)
		if err != nil {
			return nil, fmt.Errorf("load private key: %s", err)
		}
		m = medium.NewEncrypted(m, medium.NewAESEncryptor(medium.NewRSAEncryptor(privKey)))
	}
	return m, nil
}

func format(c *cli.Context) error {
	setLoggerLevel(c)
	if c.Args().Len() < 1 {
		logger.Fatalf("medium URI is required")
	}
	uri := c.Args().Get(0)

	compressor := compress.NewCompressor(c.String("compress"))
	if compressor == nil {
		logger.Fatalf("Unsupported compress algorithm: %s", c.String("compress"))
	}

	keyPath := c.String("encrypt-rsa-key")
	m, err := openMedium(uri, keyPath)
	if err != nil {
		logger.Fatalf("open medium: %s", err)
	}
	if err = m.Create(); err != nil {
		logger.Fatalf("create %s: %s", m, err)
	}
	logger.Infof("Chunks use %s", m)
	if err = test(m); err != nil {
		logger.Fatalf("Medium %s is not configured correctly: %s", m, err)
	}

	stamp := formatStamp{
		UUID:        uuid.New().String(),
		Version:     version.Version(),
		ChunkSize:   c.Int("chunk-size"),
		Compression: c.String("compress"),
		Encrypted:   keyPath != "",
		FormatedAt:  time.Now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(&stamp, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	if err = m.Put(stampKey, bytes.NewReader(data)); err != nil {
		logger.Fatalf("write format stamp: %s", err)
	}
	logger.Infof("Medium is formatted as %+v", stamp)
	return nil
}

// loadStamp returns the format stamp, or nil when the medium was never
// formatted (which is fine, serve falls back to its flags).
func loadStamp(m medium.Medium) (*formatStamp, error) {
	p, err := m.Get(stampKey, 0, -1)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer p.Close()
	data, err := io.ReadAll(p)
	if err != nil {
		return nil, err
	}
	var stamp formatStamp
	if err = json.Unmarshal(data, &stamp); err != nil {
		return nil, fmt.Errorf("parse format stamp: %s", err)
	}
	return &stamp, nil
}

func formatFlags() *cli.Command {
	return &cli.Command{
		Name:      "format",
		Usage:     "format a persistent medium for chunk storage",
		ArgsUsage: "URI",
		Action:    format,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "chunk-size",
				Value: 4096,
				Usage: "tokens per persisted chunk",
			},
			&cli.StringFlag{
				Name:  "compress",
				Value: "zstd",
				Usage: "compression algorithm (lz4, zstd, none)",
			},
			&cli.StringFlag{
				Name:  "encrypt-rsa-key",
				Usage: "path of RSA private key (PEM) to encrypt chunks",
			},
		},
	}
}
