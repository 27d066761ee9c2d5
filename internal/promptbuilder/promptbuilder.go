// Package promptbuilder composes the prompt for a (stage, scene, room,
// tighten-level) tuple: one descriptor struct per call, no inheritance
// between stages — tighten level is just one more field on it.
package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/realestate-ai/enhance-pipeline/internal/domain"
)

// Descriptor is the single input the prompt builder consumes. Every
// model-call variation (stage, scene, room, declutter mode, staging
// variant, tighten level) is one field on this struct rather than a
// separate builder type.
type Descriptor struct {
	Stage domain.Stage
	Scene domain.SceneType
	RoomType string
	DeclutterMode domain.DeclutterMode
	StagingVariant domain.StagingVariant
	StagingStyle string
	TightenLevel int
	ReplaceSky bool
	CustomInstructions string
}

// Build assembles the final prompt text for one generative-model call.
// The output-dimension constraint ("same resolution, same aspect, no
// crop, no letterbox") is always appended last regardless of stage or
// tighten level.
func Build(d Descriptor) string {
	var sb strings.Builder

	sb.WriteString(stageIntent(d))
	sb.WriteString(" ")
	sb.WriteString(tightenClause(d))

	if d.CustomInstructions != "" {
		sb.WriteString(" Additional instructions: ")
		sb.WriteString(d.CustomInstructions)
	}

	sb.WriteString(" ")
	sb.WriteString(outputDimensionConstraint())

	return strings.TrimSpace(sb.String())
}

func stageIntent(d Descriptor) string {
	switch d.Stage {
	case domain.Stage1A:
		base := "Clean up exposure, white balance, and color cast; do not alter composition."
		if d.Scene == domain.SceneExterior && d.ReplaceSky {
			base += " Replace an overcast or blown-out sky with a clear blue sky; leave the building and landscaping untouched."
		}
		return base
	case domain.Stage1B:
		if d.DeclutterMode == domain.DeclutterFull {
			return "Remove all furniture and personal items from the room, leaving only fixed architecture: walls, floors, windows, doors, built-in cabinetry, and fixtures."
		}
		return roomLabel(d.RoomType) + "Remove clutter, personal items, and loose decor while keeping existing furniture in its current position."
	case domain.Stage2:
		if d.StagingVariant == domain.Staging2B {
			style := d.StagingStyle
			if style == "" {
				style = "contemporary"
			}
			return roomLabel(d.RoomType) + fmt.Sprintf("Stage this empty room with %s furniture and decor appropriate to its room type.", style)
		}
		return roomLabel(d.RoomType) + "Refresh the existing furniture arrangement and decor without removing or replacing the room's built-in architecture."
	default:
		return ""
	}
}

func roomLabel(roomType string) string {
	if roomType == "" {
		return ""
	}
	return fmt.Sprintf("This is a %s. ", roomType)
}

// tightenClause returns the constraint language for the given tighten
// level. Each level's wording is scoped per-stage since "minimal
// staging" means something different from "surface-clutter-only".
func tightenClause(d Descriptor) string {
	switch d.TightenLevel {
	case 0:
		return ""
	case 1:
		switch d.Stage {
		case domain.Stage1A:
			return "Stay strictly within exposure, color, and clarity corrections — no structural or object changes."
		case domain.Stage1B:
			return "Only remove items that are unambiguously clutter; leave all fixed fixtures in place."
		default:
			return "Apply minimal staging: add only what is essential to convey the room's function."
		}
	case 2:
		switch d.Stage {
		case domain.Stage1A:
			return "Make no additions or removals of any object; corrections only."
		case domain.Stage1B:
			return "Remove surface clutter only — countertop items, loose cables, trash. Do not move or remove furniture."
		default:
			return "Add no more than 1-3 small decor items; do not introduce large furniture pieces."
		}
	default:
		return "Be ultra-conservative: make only corrections or removals you are certain are safe. If uncertain about any change, leave that area untouched."
	}
}

func outputDimensionConstraint() string {
	return "Output must match the input image's exact resolution and aspect ratio: no cropping, no letterboxing, no padding."
}
