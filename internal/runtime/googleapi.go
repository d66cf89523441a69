// internal/runtime/googleapi.go: adapts *gmail.Service to the gmail.Client interface
package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/awayreply/internal/gmail"
)

const me = "me"

type googleClient struct{ svc *gmail.Service }

func NewGoogleAPIClient(svc *gmail.Service) gc.Client { return &googleClient{svc} }

func (g *googleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	lr, err := g.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		out = append(out, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name})
	}
	return out, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (gc.Label, error) {
	created, err := g.svc.Users.Labels.Create(me, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return gc.Label{}, fmt.Errorf("create label %q: %w", name, gc.ErrLabelExists)
		}
		return gc.Label{}, fmt.Errorf("create label %q: %w", name, err)
	}
	return gc.Label{ID: gc.LabelID(created.Id), Name: created.Name}, nil
}

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List(me).Q(q.Raw)
	if pageSize > 0 {
		call = call.MaxResults(int64(pageSize))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, err
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Refs = append(page.Refs, gc.MessageRef{ID: gc.MessageID(m.Id), ThreadID: gc.ThreadID(m.ThreadId)})
	}
	return page, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id gc.MessageID, headers []string) (gc.Message, error) {
	msg, err := g.svc.Users.Messages.Get(me, string(id)).Format("metadata").MetadataHeaders(headers...).Context(ctx).Do()
	if err != nil {
		return gc.Message{}, err
	}
	return toMessage(msg), nil
}

func (g *googleClient) GetThread(ctx context.Context, id gc.ThreadID, headers []string) (gc.Thread, error) {
	th, err := g.svc.Users.Threads.Get(me, string(id)).Format("metadata").MetadataHeaders(headers...).Context(ctx).Do()
	if err != nil {
		return gc.Thread{}, err
	}
	out := gc.Thread{ID: gc.ThreadID(th.Id), Messages: make([]gc.Message, 0, len(th.Messages))}
	for _, m := range th.Messages {
		out.Messages = append(out.Messages, toMessage(m))
	}
	return out, nil
}

func (g *googleClient) Send(ctx context.Context, raw []byte, thread gc.ThreadID) (gc.MessageID, error) {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: string(thread),
	}
	sent, err := g.svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return gc.MessageID(sent.Id), nil
}

func (g *googleClient) ModifyThread(ctx context.Context, id gc.ThreadID, ops gc.ModifyOps) error {
	req := &gmail.ModifyThreadRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = toStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = toStrings(ops.RemoveLabels)
	}
	_, err := g.svc.Users.Threads.Modify(me, string(id), req).Context(ctx).Do()
	return err
}

func toMessage(m *gmail.Message) gc.Message {
	h := map[string]string{}
	if m.Payload != nil {
		for _, hd := range m.Payload.Headers {
			h[hd.Name] = hd.Value
		}
	}
	return gc.Message{
		ID:       gc.MessageID(m.Id),
		ThreadID: gc.ThreadID(m.ThreadId),
		Labels:   toLabelIDs(m.LabelIds),
		Headers:  h,
	}
}

func toStrings(ids []gc.LabelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}
