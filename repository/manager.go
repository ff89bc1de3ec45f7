package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/core"
)

const (
	codeFile     = "program.wasm"
	metadataFile = "metadata.json"
)

// ErrProgramExists is returned when code is registered twice under one id
var ErrProgramExists = errors.New("program already exists")

// Manager stores deployed program binaries on disk, one directory per program id
type Manager struct {
	rootDir string
}

// ContractCode is a deployed program binary and what is known about it
type ContractCode struct {
	ProgramID  core.Address
	Code       []byte
	ABI        *abi.ABI
	UpdateTime time.Time
	Hash       [32]byte
}

// ContractMetadata is persisted next to the binary
type ContractMetadata struct {
	Hash       string    `json:"hash"`
	UpdateTime time.Time `json:"update_time"`
	ABI        *abi.ABI  `json:"abi"`
}

// NewManager creates a code manager rooted at rootDir
func NewManager(rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		slog.Error("failed to create root directory", "dir", rootDir, "error", err)
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &Manager{
		rootDir: rootDir,
	}, nil
}

// RegisterCode stores a program binary. Deployed programs are immutable.
func (m *Manager) RegisterCode(id core.Address, code []byte, programABI *abi.ABI) error {
	contractDir := m.getContractDir(id)
	if _, err := os.Stat(contractDir); err == nil {
		return fmt.Errorf("%w: %s", ErrProgramExists, id)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check program directory: %w", err)
	}

	if err := os.MkdirAll(contractDir, 0755); err != nil {
		return fmt.Errorf("failed to create program directory: %w", err)
	}

	contractCode := &ContractCode{
		ProgramID:  id,
		Code:       code,
		ABI:        programABI,
		UpdateTime: time.Now().UTC(),
		Hash:       sha256.Sum256(code),
	}

	if err := m.saveContractFiles(contractCode); err != nil {
		os.RemoveAll(contractDir)
		return fmt.Errorf("failed to save program files: %w", err)
	}

	slog.Info("program code registered", "program", id, "hash", hex.EncodeToString(contractCode.Hash[:]), "size", len(code))
	return nil
}

// GetCode loads a program binary and its metadata
func (m *Manager) GetCode(id core.Address) (*ContractCode, error) {
	return m.loadContractCode(id)
}

// Has reports whether code is registered under id
func (m *Manager) Has(id core.Address) bool {
	_, err := os.Stat(filepath.Join(m.getContractDir(id), metadataFile))
	return err == nil
}

// List returns the ids of all registered programs, sorted by their base58 form
func (m *Manager) List() ([]core.Address, error) {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}

	ids := make([]core.Address, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := core.ParseAddress(entry.Name())
		if err != nil {
			slog.Warn("skipping unexpected directory", "dir", entry.Name())
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *Manager) getContractDir(id core.Address) string {
	return filepath.Join(m.rootDir, id.String())
}

func (m *Manager) saveContractFiles(code *ContractCode) error {
	dir := m.getContractDir(code.ProgramID)

	if err := os.WriteFile(filepath.Join(dir, codeFile), code.Code, 0644); err != nil {
		return fmt.Errorf("failed to save program code: %w", err)
	}

	metadata := ContractMetadata{
		Hash:       hex.EncodeToString(code.Hash[:]),
		UpdateTime: code.UpdateTime,
		ABI:        code.ABI,
	}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), metadataBytes, 0644); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

func (m *Manager) loadContractCode(id core.Address) (*ContractCode, error) {
	dir := m.getContractDir(id)

	code, err := os.ReadFile(filepath.Join(dir, codeFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read program code: %w", err)
	}

	metadataBytes, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var metadata ContractMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	hashBytes, err := hex.DecodeString(metadata.Hash)
	if err != nil {
		return nil, fmt.Errorf("invalid hash in metadata: %w", err)
	}
	var hash [32]byte
	copy(hash[:], hashBytes)
	if hash != sha256.Sum256(code) {
		return nil, fmt.Errorf("program %s: code does not match recorded hash", id)
	}

	return &ContractCode{
		ProgramID:  id,
		Code:       code,
		ABI:        metadata.ABI,
		UpdateTime: metadata.UpdateTime,
		Hash:       hash,
	}, nil
}
