package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/gin-gonic/gin"
)

type procedureFunc func(c *gin.Context) (any, error)

type okResponse struct {
	OK bool `json:"ok"`
}

func (h *httpHandler) procedureTable() map[string]procedureFunc {
	return map[string]procedureFunc{
		"node.list":         h.listNodes,
		"node.create":       h.createNode,
		"node.update":       h.updateNode,
		"node.delete":       h.deleteNode,
		"node.search":       h.searchNodes,
		"node.archive":      h.archiveNode,
		"node.setImage":     h.setNodeImage,
		"node.updateColors": h.updateNodeColors,
		"node.recentAi":     h.recentAINodes,

		"link.list":    h.listLinks,
		"link.create":  h.createLink,
		"link.delete":  h.deleteLink,
		"link.forNode": h.linksForNode,
		"link.roles":   h.listRoles,

		"event.list":          h.listEvents,
		"event.create":        h.createEvent,
		"event.delete":        h.deleteEvent,
		"event.uploadMedia":   h.uploadMedia,
		"event.mediaForEvent": h.mediaForEvent,
		"event.deleteMedia":   h.deleteMedia,
		"event.addTags":       h.addTags,
		"event.recentAi":      h.recentAIEvents,
		"event.tags":          h.listTags,

		"ingest.process": h.processText,
	}
}

func (h *httpHandler) handleProcedure(c *gin.Context) {
	name := c.Param("procedure")
	procedure, ok := h.procedures[name]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":   codeUnknownProcedure,
			"message": "unknown procedure " + name,
		})
		return
	}
	result, err := procedure(c)
	if err != nil {
		h.writeError(c, name, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// bindInput binds the JSON body into T. An empty body binds to the zero value and skips the binding rules;
// the graph service still validates what it receives.
func bindInput[T any](c *gin.Context) (T, error) {
	var input T
	if err := c.ShouldBindJSON(&input); err != nil {
		if errors.Is(err, io.EOF) {
			return input, nil
		}
		return input, invalidRequest("malformed request body: %v", err)
	}
	return input, nil
}

type idInput struct {
	ID string `json:"id" binding:"required"`
}

type limitInput struct {
	Limit int `json:"limit"`
}

type listNodesInput struct {
	IncludeArchived bool `json:"includeArchived"`
}

func (h *httpHandler) listNodes(c *gin.Context) (any, error) {
	input, err := bindInput[listNodesInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.ListNodes(c.Request.Context(), input.IncludeArchived)
}

type createNodeInput struct {
	Label    string          `json:"label"`
	Type     string          `json:"type"`
	Metadata json.RawMessage `json:"metadata"`
}

func (h *httpHandler) createNode(c *gin.Context) (any, error) {
	input, err := bindInput[createNodeInput](c)
	if err != nil {
		return nil, err
	}
	node, err := h.graph.CreateNode(c.Request.Context(), graph.NodeInput{
		Label:    input.Label,
		Type:     input.Type,
		Metadata: input.Metadata,
		AddedBy:  graph.ProvenanceUser,
	})
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{node.ID}, nil, nil)
	return node, nil
}

type updateNodeInput struct {
	ID       string          `json:"id" binding:"required"`
	Label    *string         `json:"label"`
	Type     *string         `json:"type"`
	Metadata json.RawMessage `json:"metadata"`
}

func (h *httpHandler) updateNode(c *gin.Context) (any, error) {
	input, err := bindInput[updateNodeInput](c)
	if err != nil {
		return nil, err
	}
	node, err := h.graph.UpdateNode(c.Request.Context(), input.ID, graph.NodeUpdate{
		Label:    input.Label,
		Type:     input.Type,
		Metadata: input.Metadata,
	})
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{node.ID}, nil, nil)
	return node, nil
}

func (h *httpHandler) deleteNode(c *gin.Context) (any, error) {
	input, err := bindInput[idInput](c)
	if err != nil {
		return nil, err
	}
	if err := h.graph.DeleteNode(c.Request.Context(), input.ID); err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{input.ID}, nil, nil)
	return okResponse{OK: true}, nil
}

type searchNodesInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *httpHandler) searchNodes(c *gin.Context) (any, error) {
	input, err := bindInput[searchNodesInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.SearchNodes(c.Request.Context(), input.Query, input.Limit)
}

type archiveNodeInput struct {
	ID       string `json:"id" binding:"required"`
	Archived *bool  `json:"archived"`
}

func (h *httpHandler) archiveNode(c *gin.Context) (any, error) {
	input, err := bindInput[archiveNodeInput](c)
	if err != nil {
		return nil, err
	}
	archived := true
	if input.Archived != nil {
		archived = *input.Archived
	}
	node, err := h.graph.ArchiveNode(c.Request.Context(), input.ID, archived)
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{node.ID}, nil, nil)
	return node, nil
}

type setNodeImageInput struct {
	ID      string  `json:"id" binding:"required"`
	MediaID *string `json:"mediaId"`
}

func (h *httpHandler) setNodeImage(c *gin.Context) (any, error) {
	input, err := bindInput[setNodeImageInput](c)
	if err != nil {
		return nil, err
	}
	node, err := h.graph.SetNodeImage(c.Request.Context(), input.ID, input.MediaID)
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{node.ID}, nil, nil)
	return node, nil
}

type updateNodeColorsInput struct {
	ID            string `json:"id" binding:"required"`
	ColorHexLight string `json:"colorHexLight"`
	ColorHexDark  string `json:"colorHexDark"`
}

func (h *httpHandler) updateNodeColors(c *gin.Context) (any, error) {
	input, err := bindInput[updateNodeColorsInput](c)
	if err != nil {
		return nil, err
	}
	node, err := h.graph.UpdateNodeColors(c.Request.Context(), input.ID, graph.ColorPair{
		Light: input.ColorHexLight,
		Dark:  input.ColorHexDark,
	})
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{node.ID}, nil, nil)
	return node, nil
}

func (h *httpHandler) recentAINodes(c *gin.Context) (any, error) {
	input, err := bindInput[limitInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.RecentAINodes(c.Request.Context(), input.Limit)
}

func (h *httpHandler) listLinks(c *gin.Context) (any, error) {
	return h.graph.ListLinks(c.Request.Context())
}

// createLinkInput accepts the role under "role" or, for older clients, "type".
type createLinkInput struct {
	NodeIDs []string `json:"nodeIds"`
	Role    string   `json:"role"`
	Type    string   `json:"type"`
}

func (h *httpHandler) createLink(c *gin.Context) (any, error) {
	input, err := bindInput[createLinkInput](c)
	if err != nil {
		return nil, err
	}
	if len(input.NodeIDs) != 2 {
		return nil, invalidRequest("nodeIds must hold exactly two ids")
	}
	role := input.Role
	if strings.TrimSpace(role) == "" {
		role = input.Type
	}
	link, err := h.graph.EnsureLink(c.Request.Context(), graph.LinkRequest{
		NodeIDs:  [2]string{input.NodeIDs[0], input.NodeIDs[1]},
		RoleName: role,
	})
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{link.NodeAID, link.NodeBID}, nil, nil)
	return link, nil
}

func (h *httpHandler) deleteLink(c *gin.Context) (any, error) {
	input, err := bindInput[idInput](c)
	if err != nil {
		return nil, err
	}
	if err := h.graph.DeleteLink(c.Request.Context(), input.ID); err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, nil, nil, nil)
	return okResponse{OK: true}, nil
}

type nodeIDInput struct {
	NodeID string `json:"nodeId" binding:"required"`
}

func (h *httpHandler) linksForNode(c *gin.Context) (any, error) {
	input, err := bindInput[nodeIDInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.LinksForNode(c.Request.Context(), input.NodeID)
}

func (h *httpHandler) listRoles(c *gin.Context) (any, error) {
	return h.graph.ListRoles(c.Request.Context())
}

func (h *httpHandler) listEvents(c *gin.Context) (any, error) {
	input, err := bindInput[nodeIDInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.ListEvents(c.Request.Context(), input.NodeID)
}

type createEventInput struct {
	NodeID      string   `json:"nodeId" binding:"required"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (h *httpHandler) createEvent(c *gin.Context) (any, error) {
	input, err := bindInput[createEventInput](c)
	if err != nil {
		return nil, err
	}
	event, err := h.graph.CreateEvent(c.Request.Context(), graph.EventInput{
		NodeID:      input.NodeID,
		Type:        input.Type,
		Description: input.Description,
		AddedBy:     graph.ProvenanceUser,
		Tags:        input.Tags,
	})
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{event.NodeID}, []string{event.ID}, nil)
	return event, nil
}

func (h *httpHandler) deleteEvent(c *gin.Context) (any, error) {
	input, err := bindInput[idInput](c)
	if err != nil {
		return nil, err
	}
	if err := h.graph.DeleteEvent(c.Request.Context(), input.ID); err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, nil, []string{input.ID}, nil)
	return okResponse{OK: true}, nil
}

type eventIDInput struct {
	EventID string `json:"eventId" binding:"required"`
}

func (h *httpHandler) mediaForEvent(c *gin.Context) (any, error) {
	input, err := bindInput[eventIDInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.MediaForEvent(c.Request.Context(), input.EventID)
}

type deleteMediaInput struct {
	EventID string `json:"eventId" binding:"required"`
	MediaID string `json:"mediaId" binding:"required"`
}

func (h *httpHandler) deleteMedia(c *gin.Context) (any, error) {
	input, err := bindInput[deleteMediaInput](c)
	if err != nil {
		return nil, err
	}
	if err := h.graph.DetachMedia(c.Request.Context(), input.EventID, input.MediaID); err != nil {
		return nil, err
	}
	h.publish(realtime.EventMediaAttached, nil, []string{input.EventID}, []string{input.MediaID})
	return okResponse{OK: true}, nil
}

type addTagsInput struct {
	EventID string   `json:"eventId" binding:"required"`
	Tags    []string `json:"tags"`
}

func (h *httpHandler) addTags(c *gin.Context) (any, error) {
	input, err := bindInput[addTagsInput](c)
	if err != nil {
		return nil, err
	}
	event, err := h.graph.AddTags(c.Request.Context(), input.EventID, input.Tags)
	if err != nil {
		return nil, err
	}
	h.publish(realtime.EventGraphChanged, []string{event.NodeID}, []string{event.ID}, nil)
	return event, nil
}

func (h *httpHandler) recentAIEvents(c *gin.Context) (any, error) {
	input, err := bindInput[limitInput](c)
	if err != nil {
		return nil, err
	}
	return h.graph.RecentAIEvents(c.Request.Context(), input.Limit)
}

func (h *httpHandler) listTags(c *gin.Context) (any, error) {
	return h.graph.ListTags(c.Request.Context())
}

type processTextInput struct {
	Text string `json:"text"`
}

func (h *httpHandler) processText(c *gin.Context) (any, error) {
	input, err := bindInput[processTextInput](c)
	if err != nil {
		return nil, err
	}
	return h.ingester.Ingest(c.Request.Context(), input.Text)
}
