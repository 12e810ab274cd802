// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/gocarina/gocsv"
)

// BlockRow is one simulated block in the CSV report.
type BlockRow struct {
	Height     int32  `csv:"height"`
	Hash       string `csv:"hash"`
	Timestamp  uint32 `csv:"timestamp"`
	StakeHash  string `csv:"stake_hash"`
	StakeIndex uint32 `csv:"stake_index"`
	StakeValue int64  `csv:"stake_value"`
	ProofHash  string `csv:"proof_hash"`
	Reward     int64  `csv:"reward"`
	Fees       int64  `csv:"fees"`
	TxCount    int    `csv:"tx_count"`
	Tries      int    `csv:"tries"`
}

type CSVStorage struct {
	path string
	file *os.File
}

func NewCSVStorage(path string) *CSVStorage {
	return &CSVStorage{path: path}
}

func (storage *CSVStorage) open(readOnly, truncate bool) error {
	mode := os.O_RDWR | os.O_CREATE
	if truncate {
		mode |= os.O_TRUNC
	}

	if readOnly {
		mode = os.O_RDONLY
	}

	file, err := os.OpenFile(storage.path, mode, 0644)
	if os.IsPermission(err) {
		file, err = os.Create(storage.path)
	}

	storage.file = file
	return err
}

func (storage *CSVStorage) Close() {
	if storage.file != nil {
		_ = storage.file.Close()
	}
}

func (storage *CSVStorage) FetchRows() ([]BlockRow, error) {
	if err := storage.open(true, false); err != nil {
		return nil, err
	}
	defer storage.Close()

	rows := make([]BlockRow, 0)
	err := gocsv.UnmarshalFile(storage.file, &rows)
	return rows, err
}

func (storage *CSVStorage) SaveRows(rows []BlockRow) error {
	if err := storage.open(false, true); err != nil {
		return err
	}
	defer storage.Close()

	return gocsv.MarshalFile(rows, storage.file)
}
