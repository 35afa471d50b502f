// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transfer receives one file from the payload over the raw link.
//
// The exchange uses bare ASCII tokens, not command frames:
//
//	payload -> filename
//	        <- READY_RECEIVE_FILE
//	payload -> file body
//	        <- RECEIVED_FILE_DATA
//	        <- SEND_FILE_HASH
//	payload -> 32 byte SHA-256 digest
//	        <- RECEIVE_FILE_SUCCESS | RECEIVE_FILE_ERROR_RETRY
//
// Fields carry no length prefix. A read shorter than the read buffer ends
// a field, so a field whose size is an exact multiple of the buffer only
// ends at the next empty read (one transport read timeout later).
package transfer

// Wire tokens
const (
	TokenReadyReceiveFile      = "READY_RECEIVE_FILE"
	TokenReceivedFileData      = "RECEIVED_FILE_DATA"
	TokenSendFileHash          = "SEND_FILE_HASH"
	TokenReceiveFileErrorRetry = "RECEIVE_FILE_ERROR_RETRY"
	TokenReceiveFileSuccess    = "RECEIVE_FILE_SUCCESS"
)

// DigestSize is the size of the SHA-256 digest exchanged on the wire
const DigestSize = 32

// DefaultChunkSize is the read buffer size that delimits fields
const DefaultChunkSize = 1024
