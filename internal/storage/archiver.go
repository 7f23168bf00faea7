package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Archiver copies detection evidence to long-term storage. Archival is
// best-effort: the detection is already committed, a failed upload only
// loses the off-site copy.
type Archiver struct {
	uploader Uploader
	log      *logrus.Entry
}

func NewArchiver(uploader Uploader, log *logrus.Logger) *Archiver {
	if log == nil {
		log = logrus.New()
	}
	return &Archiver{uploader: uploader, log: log.WithField("component", "archiver")}
}

// ArchiveImage stores one annotated detection frame keyed by the detection
// log id.
func (a *Archiver) ArchiveImage(ctx context.Context, logID uint, image []byte) {
	name := fmt.Sprintf("detections/%s/%d.jpg", time.Now().UTC().Format("2006/01/02"), logID)
	if _, err := a.uploader.Upload(ctx, name, "image/jpeg", bytes.NewReader(image)); err != nil {
		a.log.WithError(err).WithField("log_id", logID).Warn("image archive failed")
		return
	}
	a.log.WithField("object", name).Debug("detection image archived")
}

// ArchiveTranscript stores one transcript document under its local file
// name.
func (a *Archiver) ArchiveTranscript(ctx context.Context, fileName string, doc []byte) {
	name := "transcripts/" + time.Now().UTC().Format("2006/01/02") + "/" + fileName
	if _, err := a.uploader.Upload(ctx, name, "application/json", bytes.NewReader(doc)); err != nil {
		a.log.WithError(err).WithField("file", fileName).Warn("transcript archive failed")
		return
	}
}
