package loom

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

var anyType = reflect.TypeOf((*interface{})(nil)).Elem()

// Reader decodes object graphs by mirroring the writer's discovery order:
// one self-describing record per assigned id, each stream type reconciled
// against the local type expected at the first reference site, back-edges
// resolved through deferred fixups.
type Reader struct {
	cfg       *Config
	types     *typeTable
	refs      *refReader
	expect    map[int64]reflect.Type
	plans     map[planKey]*reconcilePlan
	processed int64

	// completions are surrogate restorations deferred until the whole
	// graph is populated; run innermost-first so a surrogate nested in
	// another surrogate's wire form restores before its consumer.
	completions []completion
	posthooks   []func() error
	deferredErr error
}

type planKey struct {
	desc *TypeDescriptor
	lt   reflect.Type
}

type completion struct {
	id  int64
	run func() error
}

func newReader(cfg *Config) *Reader {
	tt := newTypeTable()
	tt.stampingDisabled = cfg.DisableTypeStamping
	tt.surrogates = cfg.surrogate
	return &Reader{
		cfg:    cfg,
		types:  tt,
		refs:   newRefReader(),
		expect: make(map[int64]reflect.Type),
		plans:  make(map[planKey]*reconcilePlan),
	}
}

func (r *Reader) reset() {
	r.types.reset()
	r.refs = newRefReader()
	r.expect = make(map[int64]reflect.Type)
	r.plans = make(map[planKey]*reconcilePlan)
	r.processed = 0
	r.completions = nil
	r.posthooks = nil
	r.deferredErr = nil
}

// readGraph decodes one object graph root: the root's reference slot
// followed by every record the writer queued, in id order. target guides
// local-type resolution for the root; the returned value is invalid for a
// nil root.
func (r *Reader) readGraph(buf *ByteBuffer, target reflect.Type) (reflect.Value, error) {
	rootID, err := buf.ReadVarInt64()
	if err != nil {
		return reflect.Value{}, err
	}
	if rootID == -1 {
		return reflect.Value{}, nil
	}
	if _, err := r.refs.readRef(rootID); err != nil {
		return reflect.Value{}, err
	}
	if target != nil && target.Kind() != reflect.Interface && r.expect[rootID] == nil {
		r.expect[rootID] = target
	}
	for r.processed < r.refs.nextID {
		if err := r.readRecord(buf, r.processed); err != nil {
			return reflect.Value{}, err
		}
		r.processed++
	}
	for i := len(r.completions) - 1; i >= 0; i-- {
		if err := r.completions[i].run(); err != nil {
			return reflect.Value{}, err
		}
	}
	r.completions = nil
	if r.deferredErr != nil {
		return reflect.Value{}, r.deferredErr
	}
	hooks := r.posthooks
	r.posthooks = nil
	for _, h := range hooks {
		if err := h(); err != nil {
			return reflect.Value{}, err
		}
	}
	return r.refs.resolve(rootID)
}

// readRecord parses the self-describing record for id: type framing, then
// the body.
func (r *Reader) readRecord(buf *ByteBuffer, id int64) error {
	raw, err := buf.ReadVarInt64()
	if err != nil {
		return err
	}
	tag := TypeID(raw)
	switch {
	case tag >= firstDynamicTypeID:
		td, err := r.types.resolveOrReadStamp(buf, tag)
		if err != nil {
			return err
		}
		return r.readStructRecord(buf, id, td)
	case tag == TypeSequence || tag == TypeSet:
		return r.readSequenceRecord(buf, id, tag)
	case tag == TypeMapping:
		return r.readMappingRecord(buf, id)
	case tag.isPrimitive():
		return r.readPrimitiveRecord(buf, id, tag)
	default:
		return fmt.Errorf("loom: %w: record with type tag %d", ErrStreamCorrupted, tag)
	}
}

// resolveRecord picks the struct type a record populates: the surrogate
// wire type when the expected local type has a registered substitution,
// otherwise the expected type itself, otherwise a type registered by name.
func (r *Reader) resolveRecord(td *TypeDescriptor, expected reflect.Type) (reflect.Type, *surrogateCodec, error) {
	if expected != nil {
		base := expected
		for base.Kind() == reflect.Ptr {
			base = base.Elem()
		}
		if c := r.cfg.surrogate.lookup(base); c != nil && c.wireType != base {
			wt := c.wireType
			for wt != nil && wt.Kind() == reflect.Ptr {
				wt = wt.Elem()
			}
			if wt == nil || wt.Kind() != reflect.Struct {
				return nil, nil, fmt.Errorf("loom: %w: surrogate wire type for %s is not a struct", ErrTypeStructureChanged, base)
			}
			return wt, c, nil
		}
		if base.Kind() == reflect.Struct {
			return base, nil, nil
		}
	}
	if lt, ok := r.cfg.localTypeByName(td.Name); ok {
		return lt, nil, nil
	}
	return nil, nil, fmt.Errorf("loom: %w: no local type for stream type %q", ErrTypeStructureChanged, td.Name)
}

func (r *Reader) readStructRecord(buf *ByteBuffer, id int64, td *TypeDescriptor) error {
	expected := r.expect[id]
	localType, codec, err := r.resolveRecord(td, expected)
	if err != nil {
		if !td.synthetic && !r.refs.wanted(id) {
			return r.discardStructBody(buf, td)
		}
		return err
	}
	desc := td
	if td.synthetic {
		desc, err = buildTypeDescriptor(r.types, localType)
		if err != nil {
			return err
		}
	}
	plan, err := r.planFor(desc, localType)
	if err != nil {
		return err
	}
	shell := allocateShell(reflect.PtrTo(localType), 0)
	if codec == nil {
		r.refs.reserve(id, shell)
	}
	if err := r.applyPlan(buf, plan, shell.Elem()); err != nil {
		return err
	}
	hookTarget := shell
	if codec != nil {
		dstBase := expected
		for dstBase.Kind() == reflect.Ptr {
			dstBase = dstBase.Elem()
		}
		dst := allocateShell(reflect.PtrTo(dstBase), 0)
		c := codec
		r.completions = append(r.completions, completion{id: id, run: func() error {
			if err := c.fromWire(shell.Elem(), dst.Elem()); err != nil {
				return err
			}
			r.refs.reserve(id, dst)
			return nil
		}})
		hookTarget = dst
	}
	if hs := r.cfg.hookFor(hookTarget.Type().Elem()); hs != nil && hs.read != nil {
		fn, tgt := hs.read, hookTarget
		r.posthooks = append(r.posthooks, func() error { return fn(tgt.Interface()) })
	}
	return nil
}

func (r *Reader) planFor(desc *TypeDescriptor, lt reflect.Type) (*reconcilePlan, error) {
	key := planKey{desc: desc, lt: lt}
	if p, ok := r.plans[key]; ok {
		return p, nil
	}
	if desc.GoType == nil {
		if local, err := buildTypeDescriptor(r.types, lt); err == nil && local.Fingerprint != desc.Fingerprint {
			r.cfg.logger.Debug("reconciling drifted type",
				zap.String("stream", desc.Name),
				zap.String("local", lt.String()))
		}
		if r.cfg.ForceStampVerification {
			if err := r.verifyStampIdentity(desc, lt); err != nil {
				return nil, err
			}
		}
	}
	p, err := buildReconcilePlan(r.cfg.VersionTolerance, desc, lt)
	if err != nil {
		return nil, err
	}
	r.plans[key] = p
	return p, nil
}

// verifyStampIdentity enforces the name and module-tag tolerance bits when
// forceStampVerification is on. Assembly versions have no Go analogue, so
// AllowAssemblyVersionChange is always satisfied.
func (r *Reader) verifyStampIdentity(desc *TypeDescriptor, lt reflect.Type) error {
	tol := r.cfg.VersionTolerance
	if desc.Name != qualifiedName(lt) && !tol.has(AllowTypeNameChange) {
		return fmt.Errorf("loom: %w: stream type %q does not match local %q", ErrTypeStructureChanged, desc.Name, qualifiedName(lt))
	}
	if desc.ModuleID != deriveModuleID(lt) && !tol.has(AllowGuidChange) && !tol.has(AllowTypeNameChange) {
		return fmt.Errorf("loom: %w: module tag mismatch for %q", ErrTypeStructureChanged, desc.Name)
	}
	return nil
}

func (r *Reader) applyPlan(buf *ByteBuffer, plan *reconcilePlan, dst reflect.Value) error {
	for i := range plan.instructions {
		ins := &plan.instructions[i]
		if ins.localField == nil {
			if err := r.skipFieldValue(buf, ins.streamField.Type); err != nil {
				return err
			}
			continue
		}
		fv := dst.FieldByIndex(ins.localIndex)
		if err := r.readFieldValueInto(buf, ins.streamField.Type, fv); err != nil {
			return fmt.Errorf("loom: field %s: %w", ins.streamField.Name, err)
		}
	}
	// Local fields absent from the stream stay at their zero value
	// (defaultInitLocal): shells are zero-initialised on allocation.
	return nil
}

// readFieldValueInto decodes one field whose stream-side type is ftr into
// the settable destination dst, the read mirror of writeFieldValue.
func (r *Reader) readFieldValueInto(buf *ByteBuffer, ftr *FieldTypeRef, dst reflect.Value) error {
	switch {
	case ftr.Tag == TypeDynamic:
		exp := dst.Type()
		if exp.Kind() == reflect.Interface {
			exp = nil
		}
		return r.readRefSlot(buf, exp, dst)
	case ftr.Desc != nil && ftr.Ptr:
		return r.readRefSlot(buf, dst.Type(), dst)
	case ftr.Desc != nil:
		return r.readInlineStruct(buf, ftr.Desc, dst)
	case ftr.Tag == TypeSequence || ftr.Tag == TypeSet || ftr.Tag == TypeMapping:
		return r.readRefSlot(buf, dst.Type(), dst)
	default:
		return readPrimitiveValue(buf, ftr.Tag, dst)
	}
}

// readRefSlot consumes a reference id and arranges for dst to receive the
// referent: immediately when the record is already materialised, or via a
// fixup fired the moment it is.
func (r *Reader) readRefSlot(buf *ByteBuffer, expected reflect.Type, dst reflect.Value) error {
	id, err := buf.ReadVarInt64()
	if err != nil {
		return err
	}
	if id == -1 {
		return nil
	}
	if _, err := r.refs.readRef(id); err != nil {
		return err
	}
	if expected != nil && expected.Kind() != reflect.Interface && r.expect[id] == nil {
		r.expect[id] = expected
	}
	if v, ok := r.refs.tryResolve(id); ok {
		return adaptAssign(dst, v)
	}
	r.refs.addFixup(id, func(v reflect.Value) {
		if err := adaptAssign(dst, v); err != nil && r.deferredErr == nil {
			r.deferredErr = err
		}
	})
	return nil
}

func (r *Reader) readInlineStruct(buf *ByteBuffer, desc *TypeDescriptor, dst reflect.Value) error {
	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}
	if dst.Kind() != reflect.Struct {
		return fmt.Errorf("loom: %w: inline struct %q read into %s", ErrTypeStructureChanged, desc.Name, dst.Type())
	}
	plan, err := r.planFor(desc, dst.Type())
	if err != nil {
		return err
	}
	if err := r.applyPlan(buf, plan, dst); err != nil {
		return err
	}
	if hs := r.cfg.hookFor(dst.Type()); hs != nil && hs.read != nil {
		fn, arg := hs.read, hookArg(dst)
		r.posthooks = append(r.posthooks, func() error { return fn(arg) })
	}
	return nil
}

// skipFieldValue decodes and discards one field. Reference slots still
// register their ids: the referent's record follows in the stream
// regardless and must be consumed in order.
func (r *Reader) skipFieldValue(buf *ByteBuffer, ftr *FieldTypeRef) error {
	switch {
	case ftr.Tag == TypeDynamic,
		ftr.Desc != nil && ftr.Ptr,
		ftr.Tag == TypeSequence, ftr.Tag == TypeSet, ftr.Tag == TypeMapping:
		id, err := buf.ReadVarInt64()
		if err != nil {
			return err
		}
		if id == -1 {
			return nil
		}
		_, err = r.refs.readRef(id)
		return err
	case ftr.Desc != nil:
		return r.discardStructBody(buf, ftr.Desc)
	default:
		return skipPrimitiveValue(buf, ftr.Tag)
	}
}

func (r *Reader) discardStructBody(buf *ByteBuffer, td *TypeDescriptor) error {
	for i := range td.Fields {
		if err := r.skipFieldValue(buf, td.Fields[i].Type); err != nil {
			return err
		}
	}
	return nil
}

// localTypeForFieldRef synthesises a Go type for a stream-side field type
// when no local expectation exists (a collection reached only through a
// dynamic slot).
func (r *Reader) localTypeForFieldRef(ftr *FieldTypeRef) (reflect.Type, error) {
	switch {
	case ftr.Desc != nil:
		t := ftr.Desc.GoType
		if t == nil {
			if lt, ok := r.cfg.localTypeByName(ftr.Desc.Name); ok {
				t = lt
			}
		}
		if t == nil {
			return nil, fmt.Errorf("loom: %w: no local type for %q", ErrTypeStructureChanged, ftr.Desc.Name)
		}
		if ftr.Ptr {
			t = reflect.PtrTo(t)
		}
		return t, nil
	case ftr.Tag == TypeSequence:
		et, err := r.localTypeForFieldRef(ftr.Elem)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(et), nil
	case ftr.Tag == TypeSet:
		et, err := r.localTypeForFieldRef(ftr.Elem)
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(et, emptyStructType), nil
	case ftr.Tag == TypeMapping:
		kt, err := r.localTypeForFieldRef(ftr.Key)
		if err != nil {
			return nil, err
		}
		vt, err := r.localTypeForFieldRef(ftr.Elem)
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(kt, vt), nil
	case ftr.Tag == TypeDynamic:
		return anyType, nil
	default:
		if t := goTypeForPrimitiveTag(ftr.Tag); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("loom: %w: field type tag %d", ErrStreamCorrupted, ftr.Tag)
	}
}

func (r *Reader) readSequenceRecord(buf *ByteBuffer, id int64, kind TypeID) error {
	elemFtr, err := r.types.readFieldTypeRef(buf)
	if err != nil {
		return err
	}
	n, err := buf.ReadLength()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("loom: %w: collection record with length %d", ErrStreamCorrupted, n)
	}
	expected := r.expect[id]
	if kind == TypeSet {
		return r.readSetBody(buf, id, elemFtr, n, expected)
	}

	var lt reflect.Type
	switch {
	case expected != nil && (expected.Kind() == reflect.Slice || expected.Kind() == reflect.Array):
		lt = expected
	default:
		et, err := r.localTypeForFieldRef(elemFtr)
		if err != nil {
			if !r.refs.wanted(id) {
				return r.discardElements(buf, elemFtr, n)
			}
			return err
		}
		lt = reflect.SliceOf(et)
	}
	if lt.Kind() == reflect.Array {
		arr := reflect.New(lt).Elem()
		limit := lt.Len()
		for i := 0; i < n; i++ {
			if i < limit {
				if err := r.readFieldValueInto(buf, elemFtr, arr.Index(i)); err != nil {
					return err
				}
				continue
			}
			if err := r.skipFieldValue(buf, elemFtr); err != nil {
				return err
			}
		}
		r.refs.reserve(id, arr)
		return nil
	}
	sl := allocateShell(lt, n)
	r.refs.reserve(id, sl)
	for i := 0; i < n; i++ {
		if err := r.readFieldValueInto(buf, elemFtr, sl.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

var emptyStructValue = reflect.ValueOf(struct{}{})

func (r *Reader) readSetBody(buf *ByteBuffer, id int64, elemFtr *FieldTypeRef, n int, expected reflect.Type) error {
	var mt reflect.Type
	switch {
	case expected != nil && expected.Kind() == reflect.Map && expected.Elem() == emptyStructType:
		mt = expected
	default:
		et, err := r.localTypeForFieldRef(elemFtr)
		if err != nil {
			if !r.refs.wanted(id) {
				return r.discardElements(buf, elemFtr, n)
			}
			return err
		}
		mt = reflect.MapOf(et, emptyStructType)
	}
	m := allocateShell(mt, n)
	r.refs.reserve(id, m)
	kt := mt.Key()
	for i := 0; i < n; i++ {
		k, pending, err := r.readElem(buf, elemFtr, kt)
		if err != nil {
			return err
		}
		if pending < 0 {
			m.SetMapIndex(k, emptyStructValue)
			continue
		}
		mm := m
		keyType := kt
		r.onResolved(pending, func(v reflect.Value) error {
			kk := reflect.New(keyType).Elem()
			if err := adaptAssign(kk, v); err != nil {
				return err
			}
			mm.SetMapIndex(kk, emptyStructValue)
			return nil
		})
	}
	return nil
}

func (r *Reader) readMappingRecord(buf *ByteBuffer, id int64) error {
	keyFtr, err := r.types.readFieldTypeRef(buf)
	if err != nil {
		return err
	}
	valFtr, err := r.types.readFieldTypeRef(buf)
	if err != nil {
		return err
	}
	n, err := buf.ReadLength()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("loom: %w: mapping record with length %d", ErrStreamCorrupted, n)
	}
	expected := r.expect[id]
	var mt reflect.Type
	switch {
	case expected != nil && expected.Kind() == reflect.Map:
		mt = expected
	default:
		kt, err := r.localTypeForFieldRef(keyFtr)
		if err == nil {
			var vt reflect.Type
			if vt, err = r.localTypeForFieldRef(valFtr); err == nil {
				mt = reflect.MapOf(kt, vt)
			}
		}
		if mt == nil {
			if !r.refs.wanted(id) {
				return r.discardPairs(buf, keyFtr, valFtr, n)
			}
			return err
		}
	}
	m := allocateShell(mt, n)
	r.refs.reserve(id, m)
	kt, vt := mt.Key(), mt.Elem()
	for i := 0; i < n; i++ {
		k, kp, err := r.readElem(buf, keyFtr, kt)
		if err != nil {
			return err
		}
		v, vp, err := r.readElem(buf, valFtr, vt)
		if err != nil {
			return err
		}
		r.insertWhenReady(m, kt, vt, k, kp, v, vp)
	}
	return nil
}

// readElem reads one collection element. When the element is a reference
// whose record has not been materialised yet, the returned pending id is
// non-negative and the value is invalid; the caller defers the insertion.
func (r *Reader) readElem(buf *ByteBuffer, ftr *FieldTypeRef, localT reflect.Type) (reflect.Value, int64, error) {
	isRef := ftr.Tag == TypeDynamic ||
		(ftr.Desc != nil && ftr.Ptr) ||
		ftr.Tag == TypeSequence || ftr.Tag == TypeSet || ftr.Tag == TypeMapping
	if isRef {
		id, err := buf.ReadVarInt64()
		if err != nil {
			return reflect.Value{}, -1, err
		}
		if id == -1 {
			return reflect.Zero(localT), -1, nil
		}
		if _, err := r.refs.readRef(id); err != nil {
			return reflect.Value{}, -1, err
		}
		if localT.Kind() != reflect.Interface && r.expect[id] == nil {
			r.expect[id] = localT
		}
		if v, ok := r.refs.tryResolve(id); ok {
			tmp := reflect.New(localT).Elem()
			if err := adaptAssign(tmp, v); err != nil {
				return reflect.Value{}, -1, err
			}
			return tmp, -1, nil
		}
		return reflect.Value{}, id, nil
	}
	tmp := reflect.New(localT).Elem()
	if ftr.Desc != nil {
		if err := r.readInlineStruct(buf, ftr.Desc, tmp); err != nil {
			return reflect.Value{}, -1, err
		}
		return tmp, -1, nil
	}
	if err := readPrimitiveValue(buf, ftr.Tag, tmp); err != nil {
		return reflect.Value{}, -1, err
	}
	return tmp, -1, nil
}

func (r *Reader) insertWhenReady(m reflect.Value, kt, vt reflect.Type, k reflect.Value, kp int64, v reflect.Value, vp int64) {
	switch {
	case kp < 0 && vp < 0:
		m.SetMapIndex(k, v)
	case kp >= 0 && vp < 0:
		vv := v
		r.onResolved(kp, func(rk reflect.Value) error {
			kk := reflect.New(kt).Elem()
			if err := adaptAssign(kk, rk); err != nil {
				return err
			}
			m.SetMapIndex(kk, vv)
			return nil
		})
	case kp < 0 && vp >= 0:
		kk := k
		r.onResolved(vp, func(rv reflect.Value) error {
			vv := reflect.New(vt).Elem()
			if err := adaptAssign(vv, rv); err != nil {
				return err
			}
			m.SetMapIndex(kk, vv)
			return nil
		})
	default:
		r.onResolved(kp, func(rk reflect.Value) error {
			kk := reflect.New(kt).Elem()
			if err := adaptAssign(kk, rk); err != nil {
				return err
			}
			r.onResolved(vp, func(rv reflect.Value) error {
				vv := reflect.New(vt).Elem()
				if err := adaptAssign(vv, rv); err != nil {
					return err
				}
				m.SetMapIndex(kk, vv)
				return nil
			})
			return nil
		})
	}
}

// onResolved runs fn with id's value now if it is materialised, or as a
// fixup at the moment it is. fn errors are surfaced as the session's
// deferred error.
func (r *Reader) onResolved(id int64, fn func(reflect.Value) error) {
	if v, ok := r.refs.tryResolve(id); ok {
		if err := fn(v); err != nil && r.deferredErr == nil {
			r.deferredErr = err
		}
		return
	}
	r.refs.addFixup(id, func(v reflect.Value) {
		if err := fn(v); err != nil && r.deferredErr == nil {
			r.deferredErr = err
		}
	})
}

func (r *Reader) discardElements(buf *ByteBuffer, elemFtr *FieldTypeRef, n int) error {
	for i := 0; i < n; i++ {
		if err := r.skipFieldValue(buf, elemFtr); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) discardPairs(buf *ByteBuffer, keyFtr, valFtr *FieldTypeRef, n int) error {
	for i := 0; i < n; i++ {
		if err := r.skipFieldValue(buf, keyFtr); err != nil {
			return err
		}
		if err := r.skipFieldValue(buf, valFtr); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readPrimitiveRecord(buf *ByteBuffer, id int64, tag TypeID) error {
	gt := goTypeForPrimitiveTag(tag)
	if gt == nil {
		return fmt.Errorf("loom: %w: record with primitive tag %d", ErrStreamCorrupted, tag)
	}
	tmp := reflect.New(gt).Elem()
	if err := readPrimitiveValue(buf, tag, tmp); err != nil {
		return err
	}
	if expected := r.expect[id]; expected != nil {
		base := expected
		for base.Kind() == reflect.Ptr {
			base = base.Elem()
		}
		if c := r.cfg.surrogate.lookup(base); c != nil && base != gt {
			dst := allocateShell(reflect.PtrTo(base), 0)
			cc := c
			r.completions = append(r.completions, completion{id: id, run: func() error {
				if err := cc.fromWire(tmp, dst.Elem()); err != nil {
					return err
				}
				r.refs.reserve(id, dst)
				return nil
			}})
			if hs := r.cfg.hookFor(base); hs != nil && hs.read != nil {
				fn := hs.read
				r.posthooks = append(r.posthooks, func() error { return fn(dst.Interface()) })
			}
			return nil
		}
	}
	r.refs.reserve(id, tmp)
	return nil
}

// adaptAssign assigns a materialised referent to a destination slot,
// bridging the representation differences the reference table allows:
// stored pointers against value slots, value records against pointer or
// interface slots, and same-signedness integer widening.
func adaptAssign(dst reflect.Value, v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	t := dst.Type()
	switch {
	case v.Type().AssignableTo(t):
		dst.Set(v)
	case v.Kind() == reflect.Ptr && v.Type().Elem().AssignableTo(t):
		dst.Set(v.Elem())
	case t.Kind() == reflect.Ptr && v.Type().AssignableTo(t.Elem()) && v.CanAddr():
		dst.Set(v.Addr())
	case t.Kind() != reflect.String && v.Kind() != reflect.String && v.Type().ConvertibleTo(t):
		dst.Set(v.Convert(t))
	case v.Kind() == reflect.Ptr && v.Type().Elem().ConvertibleTo(t) && t.Kind() != reflect.String:
		dst.Set(v.Elem().Convert(t))
	default:
		return fmt.Errorf("loom: %w: cannot assign %s to %s", ErrTypeStructureChanged, v.Type(), t)
	}
	return nil
}
