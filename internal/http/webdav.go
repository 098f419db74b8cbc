package http

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/entities"
	"github.com/koshelf/koshelf/internal/stats"
)

// WebDAVController implements the subset of WebDAV the KOReader statistics
// plugin needs: OPTIONS, PUT, GET, DELETE, PROPFIND and MKCOL under a
// per-user directory tree. Uploaded statistics documents are fed to the
// ingestor as a side effect of PUT; everything else is plain file storage.
type WebDAVController struct {
	rootPath string
	auth     *auth.Service
	ingestor *stats.Ingestor
}

func NewWebDAVController(rootPath string, authService *auth.Service, ingestor *stats.Ingestor) *WebDAVController {
	return &WebDAVController{
		rootPath: rootPath,
		auth:     authService,
		ingestor: ingestor,
	}
}

// Handle dispatches on method; gin has no verb registration for PROPFIND or
// MKCOL, so the whole subtree routes through router.Any.
func (w *WebDAVController) Handle(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		w.options(c)
		return
	}

	user := w.authenticate(c)
	if user == nil {
		c.Header("WWW-Authenticate", `Basic realm="koshelf-webdav"`)
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}

	relPath, ok := w.cleanPath(c)
	if !ok {
		respondBadRequest(c, "invalid path")
		return
	}

	switch c.Request.Method {
	case http.MethodPut:
		w.put(c, user, relPath)
	case http.MethodGet, http.MethodHead:
		w.get(c, user, relPath)
	case http.MethodDelete:
		w.delete(c, user, relPath)
	case "PROPFIND":
		w.propfind(c, user, relPath)
	case "MKCOL":
		w.mkcol(c, user, relPath)
	default:
		respondError(c, http.StatusMethodNotAllowed, "method not supported")
	}
}

// authenticate accepts Basic credentials (the WebDAV norm) on top of
// whatever the shared middleware already resolved.
func (w *WebDAVController) authenticate(c *gin.Context) *entities.User {
	if user := auth.CurrentUser(c); user != nil {
		return user
	}
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		return nil
	}
	user, err := w.auth.Authenticate(username, password)
	if err != nil {
		return nil
	}
	return user
}

func (w *WebDAVController) options(c *gin.Context) {
	c.Header("DAV", "1, 2")
	c.Header("MS-Author-Via", "DAV")
	c.Header("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, MKCOL")
	c.Status(http.StatusOK)
}

func (w *WebDAVController) cleanPath(c *gin.Context) (string, bool) {
	raw := strings.TrimPrefix(c.Param("path"), "/")
	cleaned := path.Clean("/" + raw)
	if strings.Contains(cleaned, "..") {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/"), true
}

func (w *WebDAVController) userRoot(user *entities.User) string {
	return filepath.Join(w.rootPath, fmt.Sprintf("user_%d", user.ID))
}

func (w *WebDAVController) put(c *gin.Context, user *entities.User, relPath string) {
	if relPath == "" {
		respondBadRequest(c, "cannot PUT the collection root")
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondBadRequest(c, "unreadable body")
		return
	}

	target := filepath.Join(w.userRoot(user), filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		respondInternalError(c, err, "webdav mkdir")
		return
	}

	existed := fileExists(target)
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		respondInternalError(c, err, "webdav write")
		return
	}

	// A statistics document gets folded into the aggregates. Ingest failure
	// never fails the PUT: the file is stored either way and the client
	// retries nothing.
	if looksLikeStatsFile(relPath) {
		device := deviceFromPath(relPath)
		if _, err := w.ingestor.Ingest(user.ID, device, payload); err != nil {
			log.Printf("webdav stats ingest %s: %v", relPath, err)
		}
	}

	if existed {
		c.Status(http.StatusNoContent)
	} else {
		c.Status(http.StatusCreated)
	}
}

func (w *WebDAVController) get(c *gin.Context, user *entities.User, relPath string) {
	target := filepath.Join(w.userRoot(user), filepath.FromSlash(relPath))
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		respondNotFound(c, "file")
		return
	}
	c.File(target)
}

func (w *WebDAVController) delete(c *gin.Context, user *entities.User, relPath string) {
	if relPath == "" {
		respondBadRequest(c, "cannot DELETE the collection root")
		return
	}
	target := filepath.Join(w.userRoot(user), filepath.FromSlash(relPath))
	if !fileExists(target) {
		respondNotFound(c, "file")
		return
	}
	if err := os.RemoveAll(target); err != nil {
		respondInternalError(c, err, "webdav delete")
		return
	}
	c.Status(http.StatusNoContent)
}

func (w *WebDAVController) mkcol(c *gin.Context, user *entities.User, relPath string) {
	target := filepath.Join(w.userRoot(user), filepath.FromSlash(relPath))
	if fileExists(target) {
		respondError(c, http.StatusMethodNotAllowed, "collection already exists")
		return
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		respondInternalError(c, err, "webdav mkcol")
		return
	}
	c.Status(http.StatusCreated)
}

// Multistatus is the PROPFIND response document.
type Multistatus struct {
	XMLName   xml.Name       `xml:"D:multistatus"`
	XMLNS     string         `xml:"xmlns:D,attr"`
	Responses []davmResponse `xml:"D:response"`
}

type davmResponse struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   davProp `xml:"D:prop"`
	Status string  `xml:"D:status"`
}

type davProp struct {
	DisplayName   string        `xml:"D:displayname"`
	ContentLength int64         `xml:"D:getcontentlength,omitempty"`
	ResourceType  *resourceType `xml:"D:resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

func (w *WebDAVController) propfind(c *gin.Context, user *entities.User, relPath string) {
	base := w.userRoot(user)
	target := filepath.Join(base, filepath.FromSlash(relPath))

	info, err := os.Stat(target)
	if os.IsNotExist(err) {
		// The statistics plugin probes its directory before the first
		// upload; an empty collection is a friendlier answer than 404.
		if err := os.MkdirAll(target, 0o755); err != nil {
			respondInternalError(c, err, "webdav propfind mkdir")
			return
		}
		info, err = os.Stat(target)
	}
	if err != nil {
		respondInternalError(c, err, "webdav propfind")
		return
	}

	ms := Multistatus{XMLNS: "DAV:"}
	ms.Responses = append(ms.Responses, davEntry(c.Request.URL.Path, info))

	if info.IsDir() && c.GetHeader("Depth") != "0" {
		entries, err := os.ReadDir(target)
		if err != nil {
			respondInternalError(c, err, "webdav readdir")
			return
		}
		for _, entry := range entries {
			ei, err := entry.Info()
			if err != nil {
				continue
			}
			href := path.Join(c.Request.URL.Path, entry.Name())
			ms.Responses = append(ms.Responses, davEntry(href, ei))
		}
	}

	out, err := xml.Marshal(ms)
	if err != nil {
		respondInternalError(c, err, "webdav marshal")
		return
	}
	c.Data(http.StatusMultiStatus, `application/xml; charset="utf-8"`,
		append([]byte(xml.Header), out...))
}

func davEntry(href string, info os.FileInfo) davmResponse {
	prop := davProp{DisplayName: info.Name()}
	if info.IsDir() {
		prop.ResourceType = &resourceType{Collection: &struct{}{}}
		if !strings.HasSuffix(href, "/") {
			href += "/"
		}
	} else {
		prop.ResourceType = &resourceType{}
		prop.ContentLength = info.Size()
	}
	return davmResponse{
		Href: href,
		Propstat: propstat{
			Prop:   prop,
			Status: "HTTP/1.1 200 OK",
		},
	}
}

// looksLikeStatsFile matches the documents the statistics plugin writes:
// .json and .lua exports, plus anything under the conventional
// statistics/ folder whatever its suffix.
func looksLikeStatsFile(relPath string) bool {
	lower := strings.ToLower(relPath)
	if strings.Contains(lower, "statistics") {
		return true
	}
	name := path.Base(lower)
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".lua")
}

// deviceFromPath uses the first directory segment as the device name;
// the plugin is normally configured with one folder per device.
func deviceFromPath(relPath string) string {
	parts := strings.SplitN(relPath, "/", 2)
	if len(parts) == 2 && parts[0] != "" {
		return parts[0]
	}
	return "webdav"
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
