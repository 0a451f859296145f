package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔
	FileModePrivate fs.FileMode = 0600
)

// WAL 是 JSON lines 格式的 Write-Ahead Log
// 每筆資料一行並以換行結尾，沒有換行的最後一行視為寫到一半的殘片
type WAL struct {
	file     *os.File
	mu       sync.Mutex
	syncFile func() error
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file, syncFile: file.Sync}, nil
}

// Write 寫入一筆資料並刷入硬碟
// 回傳 nil 代表這筆資料已經落地；回傳錯誤時檔案截回寫入前的長度，
// 恢復時不會把失敗的寫入當成已 Commit
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	if _, err := w.file.Write(line); err != nil {
		return w.truncate(size, err)
	}
	if err := w.syncFile(); err != nil {
		return w.truncate(size, err)
	}
	return nil
}

// truncate 把檔案截回 size，cause 為原本的錯誤
func (w *WAL) truncate(size int64, cause error) error {
	if err := w.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate wal: %w", err))
	}
	return cause
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	return w.file.Sync()
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 依寫入順序讀取所有資料
// callback 每次收到一筆 JSON，避免一次將所有資料載入記憶體
// 崩潰留下的殘片 (最後一行沒有換行) 會被截掉，中間行損毀則回傳錯誤
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return nil
			}
			if terr := w.file.Truncate(offset); terr != nil {
				return fmt.Errorf("drop torn record at offset %d: %w", offset, terr)
			}
			return w.syncFile()
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))

		raw := bytes.TrimSpace(line)
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return fmt.Errorf("corrupt record ending at offset %d", offset)
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
}
