package notary

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
)

// fileStore implements Store with an append-only slot file.
// File format of accounts.dat, a sequence of slots:
//
//	[32]byte: address
//	[8]byte:  generation (uint64 big-endian)
//	[4]byte:  data size (uint32 big-endian)
//	[n]byte:  record bytes
//	[4]byte:  CRC-32C of everything above
//
// Create and Update both append; bytes already on disk are never rewritten.
// On open the slot with the highest generation wins for each address, a torn
// slot at the tail is truncated away and the file is compacted once superseded
// slots outweigh live ones.
type fileStore struct {
	dir   string
	lock  *os.File
	file  *os.File
	index map[Address]slot
	size  int64
	dead  int64
	mu    sync.RWMutex
}

type slot struct {
	offset int64 // start of the slot header
	size   int   // record bytes
	gen    uint64
}

const (
	accountsFileName = "accounts.dat"
	lockFileName     = "accounts.lock"
	slotHeaderSize   = IdentitySize + 8 + 4
	slotTrailerSize  = 4
)

var slotTable = crc32.MakeTable(crc32.Castagnoli)

func slotLen(size int) int64 {
	return int64(slotHeaderSize + size + slotTrailerSize)
}

func encodeSlot(addr Address, gen uint64, data []byte) []byte {
	buf := make([]byte, slotLen(len(data)))
	copy(buf[:IdentitySize], addr[:])
	binary.BigEndian.PutUint64(buf[IdentitySize:], gen)
	binary.BigEndian.PutUint32(buf[IdentitySize+8:slotHeaderSize], uint32(len(data)))
	copy(buf[slotHeaderSize:], data)
	end := slotHeaderSize + len(data)
	binary.BigEndian.PutUint32(buf[end:], crc32.Checksum(buf[:end], slotTable))
	return buf
}

// OpenFileStore creates or opens a file-based store in dir. The directory is
// locked for the lifetime of the store so a second process cannot open it.
func OpenFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	lock, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("lock accounts file: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(dir, accountsFileName), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("open accounts file: %w", err)
	}

	s := &fileStore{dir: dir, lock: lock, file: file}
	if err := s.rebuildIndex(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.dead > 0 && s.dead >= s.size-s.dead {
		if err := s.compact(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// rebuildIndex scans every slot. Only the last append can be torn, so an
// incomplete or failing slot within one slot length of the end is truncated;
// anywhere else it is reported as corruption.
func (s *fileStore) rebuildIndex() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat accounts file: %w", err)
	}
	end := info.Size()
	s.index = make(map[Address]slot)
	s.dead = 0

	var offset int64
	for offset < end {
		sl, addr, err := s.readSlot(offset, end)
		if err != nil {
			if end-offset <= slotLen(RecordSize) {
				break
			}
			return fmt.Errorf("%w: slot at %d: %v", ErrCorruptRecord, offset, err)
		}
		next := offset + slotLen(sl.size)
		if prev, ok := s.index[addr]; ok {
			if prev.gen == sl.gen {
				return fmt.Errorf("%w: duplicate generation %d for %s at %d", ErrCorruptRecord, sl.gen, addr, offset)
			}
			if prev.gen > sl.gen {
				prev, sl = sl, prev
			}
			s.dead += slotLen(prev.size)
		}
		s.index[addr] = sl
		offset = next
	}

	if offset != end {
		if err := s.file.Truncate(offset); err != nil {
			return fmt.Errorf("truncate torn slot: %w", err)
		}
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync accounts file: %w", err)
		}
	}
	s.size = offset
	return nil
}

func (s *fileStore) readSlot(offset, end int64) (slot, Address, error) {
	var addr Address
	if end-offset < slotLen(0) {
		return slot{}, addr, io.ErrUnexpectedEOF
	}
	var hdr [slotHeaderSize]byte
	if _, err := s.file.ReadAt(hdr[:], offset); err != nil {
		return slot{}, addr, err
	}
	size := int(binary.BigEndian.Uint32(hdr[IdentitySize+8:]))
	if size != RecordSize {
		return slot{}, addr, fmt.Errorf("data size %d", size)
	}
	if offset+slotLen(size) > end {
		return slot{}, addr, io.ErrUnexpectedEOF
	}
	buf := make([]byte, slotLen(size))
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return slot{}, addr, err
	}
	sumAt := slotHeaderSize + size
	if crc32.Checksum(buf[:sumAt], slotTable) != binary.BigEndian.Uint32(buf[sumAt:]) {
		return slot{}, addr, errors.New("checksum mismatch")
	}
	copy(addr[:], hdr[:IdentitySize])
	return slot{offset: offset, size: size, gen: binary.BigEndian.Uint64(hdr[IdentitySize:])}, addr, nil
}

// compact rewrites the live slots into a fresh file and renames it over
// accounts.dat. Generations are kept.
func (s *fileStore) compact() error {
	addrs := make([]Address, 0, len(s.index))
	for addr := range s.index {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return s.index[addrs[i]].offset < s.index[addrs[j]].offset })

	tmp, err := os.CreateTemp(s.dir, ".accounts-*")
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}
	defer os.Remove(tmp.Name())

	index := make(map[Address]slot, len(addrs))
	var offset int64
	for _, addr := range addrs {
		sl := s.index[addr]
		data, err := s.readData(sl)
		if err != nil {
			tmp.Close()
			return err
		}
		buf := encodeSlot(addr, sl.gen, data)
		if _, err := tmp.Write(buf); err != nil {
			tmp.Close()
			return fmt.Errorf("write compaction file: %w", err)
		}
		index[addr] = slot{offset: offset, size: sl.size, gen: sl.gen}
		offset += int64(len(buf))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, accountsFileName)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	if dir, err := os.Open(s.dir); err == nil {
		_ = dir.Sync()
		dir.Close()
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("reopen accounts file: %w", err)
	}
	_ = s.file.Close()
	s.file = file
	s.index = index
	s.size = offset
	s.dead = 0
	return nil
}

func (s *fileStore) readData(sl slot) ([]byte, error) {
	buf := make([]byte, sl.size)
	if _, err := s.file.ReadAt(buf, sl.offset+slotHeaderSize); err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return buf, nil
}

func (s *fileStore) Load(_ context.Context, addr Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.index[addr]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.readData(sl)
}

// Create appends the first slot for addr.
func (s *fileStore) Create(_ context.Context, addr Address, data []byte) error {
	if len(data) != RecordSize {
		return ErrSizeMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[addr]; ok {
		return ErrRecordExists
	}
	return s.appendSlot(addr, 1, data)
}

// Update appends a slot one generation newer than the current one. The
// previous slot stays intact until the append is synced.
func (s *fileStore) Update(_ context.Context, addr Address, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.index[addr]
	if !ok {
		return ErrRecordNotFound
	}
	if len(data) != sl.size {
		return ErrSizeMismatch
	}
	if err := s.appendSlot(addr, sl.gen+1, data); err != nil {
		return err
	}
	s.dead += slotLen(sl.size)
	return nil
}

func (s *fileStore) appendSlot(addr Address, gen uint64, data []byte) error {
	buf := encodeSlot(addr, gen, data)
	n, err := s.file.WriteAt(buf, s.size)
	if err != nil {
		_ = s.file.Truncate(s.size)
		return fmt.Errorf("write slot: %w", err)
	}
	if n != len(buf) {
		_ = s.file.Truncate(s.size)
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(buf))
	}
	if err := s.file.Sync(); err != nil {
		_ = s.file.Truncate(s.size)
		return fmt.Errorf("sync accounts file: %w", err)
	}

	s.index[addr] = slot{offset: s.size, size: len(data), gen: gen}
	s.size += int64(len(buf))
	return nil
}

func (s *fileStore) List(_ context.Context) ([]Address, error) {
	s.mu.RLock()
	out := make([]Address, 0, len(s.index))
	for addr := range s.index {
		out = append(out, addr)
	}
	s.mu.RUnlock()
	sortAddresses(out)
	return out, nil
}

// Close releases the directory lock and closes the files.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close accounts file: %w", err))
	}
	if err := syscall.Flock(int(s.lock.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock accounts file: %w", err))
	}
	if err := s.lock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock file: %w", err))
	}
	return errors.Join(errs...)
}
