// Package files stores uploaded coursework files and serves them back without
// ever letting a stored path escape its upload root.
package files

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
)

const (
	sniffLen      = 3072
	fallbackName  = "download"
	dirPerm       = 0o750
	filePerm      = 0o640
	randNameBytes = 16
)

var (
	ErrForbidden    = core.NewAuthorizationError("You do not have permission to access this file")
	ErrAccessDenied = core.NewAuthorizationError("access denied")
	ErrFileNotFound = core.NewNotFoundError("file not found")

	errDanglingLink = errors.New("dangling symlink")

	textTypeNotAllowed = "file type not allowed"
	textTooLarge       = "file is too large"
	textNoFile         = "a file is required"

	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9.\-\s]`)

	nowFunc = time.Now // mockable
)

// StoredFile is a file owned by a coursework item. RelativePath comes from storage
// and is never trusted.
type StoredFile struct {
	ID           string
	Title        string
	RelativePath string
	OwnerID      string
	Published    bool
	Root         string
}

// Policy decides whether the requester may download file.
type Policy func(file StoredFile) bool

// State tracks a download through its checks.
type State int

const (
	Unresolved State = iota
	Authorized
	PathValidated
	Exists
	Served
)

// Download is a file that passed every check and may be streamed.
type Download struct {
	State State
	Path  string // absolute, resolved
	Name  string // client facing
	Size  int64
}

// Gateway validates uploads and resolves downloads.
type Gateway struct {
	conf   core.UploadConfig
	logger core.Logger
}

func NewGateway(conf core.UploadConfig, logger core.Logger) *Gateway {
	return &Gateway{conf: conf, logger: logger}
}

// GenerateName returns a collision-free name for an upload by userID:
// {userID}-{unix millis}-{32 hex chars}{lowercased extension of original}.
func GenerateName(userID, original string) string {
	return fmt.Sprintf(
		"%s-%d-%s%s",
		userID,
		nowFunc().UnixNano()/int64(time.Millisecond),
		hex.EncodeToString(securecookie.GenerateRandomKey(randNameBytes)),
		strings.ToLower(filepath.Ext(original)),
	)
}

func uploadError(msg string) error {
	return core.NewValidationError(errors.New(msg), core.FieldError{Field: "file", Error: msg})
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// CheckUpload accepts a file only if its extension and declared content type are
// both allowed. When sniffing is enabled, the detected content type of head
// (or one of its parents, e.g. zip for docx) must be allowed as well.
func (gw *Gateway) CheckUpload(filename, declaredMIME string, head io.Reader) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || !contains(gw.conf.AllowedExts, ext) {
		return uploadError(textTypeNotAllowed)
	}

	mediaType, _, err := mime.ParseMediaType(declaredMIME)
	if err != nil || !contains(gw.conf.AllowedMIMEs, strings.ToLower(mediaType)) {
		return uploadError(textTypeNotAllowed)
	}

	if !gw.conf.SniffContent {
		return nil
	}
	detected, err := mimetype.DetectReader(head)
	if err != nil {
		return errors.Wrap(err, "detecting content type")
	}
	for mtype := detected; mtype != nil; mtype = mtype.Parent() {
		for _, allowed := range gw.conf.AllowedMIMEs {
			if mtype.Is(allowed) {
				return nil
			}
		}
	}
	gw.logger.Warn("upload content does not match its type", map[string]interface{}{
		"filename": filename,
		"declared": mediaType,
		"detected": detected.String(),
	})
	return uploadError(textTypeNotAllowed)
}

// Save checks the upload fh and writes it under root with a generated name,
// which is returned as the file's relative path.
func (gw *Gateway) Save(userID, root string, fh *multipart.FileHeader) (string, error) {
	if fh == nil {
		return "", uploadError(textNoFile)
	}
	if gw.conf.MaxSize > 0 && fh.Size > gw.conf.MaxSize {
		return "", uploadError(textTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "opening upload")
	}
	defer func() { _ = src.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", errors.Wrap(err, "reading upload")
	}
	head = head[:n]
	if err = gw.CheckUpload(fh.Filename, fh.Header.Get("Content-Type"), bytes.NewReader(head)); err != nil {
		return "", err
	}

	if err = os.MkdirAll(root, dirPerm); err != nil {
		return "", errors.Wrap(err, "creating upload directory")
	}
	name := GenerateName(userID, fh.Filename)
	dst, err := os.OpenFile(filepath.Join(root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return "", errors.Wrap(err, "creating file")
	}

	_, err = io.Copy(dst, io.MultiReader(bytes.NewReader(head), src))
	if cErr := dst.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", errors.Wrap(err, "writing file")
	}
	return name, nil
}

// Resolve maps the untrusted rel onto root. rel is percent-decoded once and may use
// either separator. The result is absolute, free of symlinks and a strict descendant
// of root; anything else is ErrAccessDenied.
func Resolve(root, rel string) (string, error) {
	decoded, err := url.PathUnescape(rel)
	if err != nil || strings.ContainsRune(decoded, 0) {
		return "", ErrAccessDenied
	}
	decoded = strings.TrimLeft(strings.ReplaceAll(decoded, `\`, "/"), "/")
	if decoded == "" {
		return "", ErrAccessDenied
	}
	// stored paths are flat names: a parent segment anywhere is a traversal attempt
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return "", ErrAccessDenied
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrap(err, "resolving root")
	}
	realRoot, err := evalExisting(absRoot)
	if err != nil {
		return "", errors.Wrap(err, "resolving root")
	}
	target, err := evalExisting(filepath.Join(realRoot, filepath.FromSlash(decoded)))
	if err != nil {
		return "", ErrAccessDenied
	}

	relPath, err := filepath.Rel(realRoot, target)
	if err != nil || relPath == "." || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	return target, nil
}

// evalExisting resolves symlinks in the longest existing prefix of path.
func evalExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	// a dangling link would be followed once its target appears
	if info, lerr := os.Lstat(path); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errDanglingLink
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := evalExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}

// Prepare runs the checks a download goes through, in order:
// authorization (403), path containment (403 "access denied"), existence (404).
func (gw *Gateway) Prepare(file StoredFile, allow Policy) (*Download, error) {
	dl := &Download{State: Unresolved}
	if allow == nil || !allow(file) {
		return nil, ErrForbidden
	}
	dl.State = Authorized

	path, err := Resolve(file.Root, file.RelativePath)
	if err != nil {
		if err == ErrAccessDenied {
			gw.logger.Warn("file path rejected", map[string]interface{}{
				"file_id": file.ID,
				"path":    file.RelativePath,
			})
		}
		return nil, err
	}
	dl.Path = path
	dl.State = PathValidated

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "checking file")
	}
	if !info.Mode().IsRegular() {
		return nil, ErrFileNotFound
	}
	dl.Size = info.Size()
	dl.Name = DownloadName(file.Title, file.RelativePath)
	dl.State = Exists
	return dl, nil
}

// Serve streams the file as an attachment. Range and conditional requests are honoured.
func (dl *Download) Serve(w http.ResponseWriter, r *http.Request) error {
	if dl.State != Exists {
		return errors.New("download is not ready to be served")
	}
	f, err := os.Open(dl.Path)
	if os.IsNotExist(err) {
		return ErrFileNotFound
	}
	if err != nil {
		return errors.Wrap(err, "opening file")
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "checking file")
	}
	// the path must still name the file that was checked, not a link swapped in since
	if linfo, err := os.Lstat(dl.Path); err != nil || !os.SameFile(info, linfo) {
		return ErrAccessDenied
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, dl.Name, info.ModTime(), f)
	dl.State = Served
	return nil
}

// DownloadName builds the client-facing filename: title restricted to letters,
// digits, dots, dashes and spaces, followed by the stored file's extension.
func DownloadName(title, storedPath string) string {
	name := unsafeNameChars.ReplaceAllString(title, "")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = fallbackName
	}

	ext := strings.ToLower(filepath.Ext(storedPath))
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return name
}
